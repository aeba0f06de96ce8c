package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// commonWords are refused on their own or with only digits and symbols
// around them ("expenses2026!", "Password123").
var commonWords = map[string]bool{
	"password":   true,
	"passw0rd":   true,
	"qwerty":     true,
	"qwertyuiop": true,
	"letmein":    true,
	"welcome":    true,
	"iloveyou":   true,
	"admin":      true,
	"spendsync":  true,
	"expense":    true,
	"expenses":   true,
	"budget":     true,
	"money":      true,
}

// minAccountTerm keeps short local parts ("bo", "ana") from rejecting
// unrelated secrets.
const minAccountTerm = 4

// Validate applies the policy without account context.
func (c Config) Validate(pw string) error {
	return c.ValidateFor(pw)
}

// ValidateFor applies the policy for an account identified by accountTerms,
// typically its email and display name.
func (c Config) ValidateFor(pw string, accountTerms ...string) error {
	switch n := utf8.RuneCountInString(pw); {
	case n < c.Policy.MinLength:
		return ErrPasswordTooShort
	case n > c.Policy.MaxLength:
		return ErrPasswordTooLong
	}

	if c.Policy.RejectVeryWeak && isTrivial(pw) {
		return ErrWeakPassword
	}
	if c.Policy.RejectAccountTerms && containsAccountTerm(pw, accountTerms) {
		return ErrPasswordHasAccountTerm
	}
	return nil
}

func isTrivial(pw string) bool {
	s := strings.ToLower(strings.TrimSpace(pw))
	if s == "" {
		return true
	}

	runes := []rune(s)
	distinct := make(map[rune]struct{}, len(runes))
	digits := 0
	for _, r := range runes {
		distinct[r] = struct{}{}
		if unicode.IsDigit(r) {
			digits++
		}
	}
	if len(distinct) <= 2 || digits == len(runes) || isRun(runes) {
		return true
	}

	core := strings.TrimFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	return commonWords[core]
}

// isRun reports a straight ascending or descending sequence such as
// "abcdefghijkl" or "987654321098" where wrap-around digits also count.
func isRun(rs []rune) bool {
	if len(rs) < 3 {
		return false
	}
	step := func(a, b rune) int {
		d := int(b - a)
		if unicode.IsDigit(a) && unicode.IsDigit(b) {
			switch d {
			case -9:
				return 1
			case 9:
				return -1
			}
		}
		return d
	}
	dir := step(rs[0], rs[1])
	if dir != 1 && dir != -1 {
		return false
	}
	for i := 2; i < len(rs); i++ {
		if step(rs[i-1], rs[i]) != dir {
			return false
		}
	}
	return true
}

func containsAccountTerm(pw string, terms []string) bool {
	lower := strings.ToLower(pw)
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if at := strings.IndexByte(term, '@'); at >= 0 {
			term = term[:at]
		}
		parts := strings.FieldsFunc(term, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, p := range parts {
			if utf8.RuneCountInString(p) >= minAccountTerm && strings.Contains(lower, p) {
				return true
			}
		}
	}
	return false
}

package password

import (
	"errors"
	"testing"
)

func TestValidateFor(t *testing.T) {
	cfg := DefaultConfig()

	cases := []struct {
		name  string
		pw    string
		terms []string
		want  error
	}{
		{"passphrase", "correct-horse-battery-9", []string{"ana@example.com", "Ana"}, nil},
		{"too short", "short", nil, ErrPasswordTooShort},
		{"repeated char", "zzzzzzzzzzzz", nil, ErrWeakPassword},
		{"two chars", "abababababab", nil, ErrWeakPassword},
		{"digits only", "20261017202610", nil, ErrWeakPassword},
		{"alphabet run", "abcdefghijklm", nil, ErrWeakPassword},
		{"digit run with wrap", "789012345678", nil, ErrWeakPassword},
		{"common word with suffix", "Expenses2026!!", nil, ErrWeakPassword},
		{"leetspeak word", "--passw0rd--", nil, ErrWeakPassword},
		{"email local part", "MarianneRocks-88", []string{"marianne@example.com"}, ErrPasswordHasAccountTerm},
		{"display name part", "quiet-harbour-lindqvist", []string{"x@example.com", "Eva Lindqvist"}, ErrPasswordHasAccountTerm},
		{"short local part ignored", "ana-keeps-receipts", []string{"ana@example.com"}, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := cfg.ValidateFor(tc.pw, tc.terms...); !errors.Is(err, tc.want) {
				t.Fatalf("ValidateFor(%q)=%v want %v", tc.pw, err, tc.want)
			}
		})
	}
}

func TestValidateFor_ChecksCanBeDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.RejectVeryWeak = false
	cfg.Policy.RejectAccountTerms = false

	if err := cfg.ValidateFor("password1234", "password@example.com"); err != nil {
		t.Fatalf("expected policy checks off, got %v", err)
	}
	if err := cfg.ValidateFor("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("length limits always apply, got %v", err)
	}
}

func TestHash_AppliesAccountTerms(t *testing.T) {
	cfg := cheapConfig()

	if _, err := cfg.Hash("marianne-budget-2026", "marianne@example.com"); !errors.Is(err, ErrPasswordHasAccountTerm) {
		t.Fatalf("expected ErrPasswordHasAccountTerm, got %v", err)
	}
	if _, err := cfg.Hash("marianne-budget-2026", "ola@example.com"); err != nil {
		t.Fatalf("unrelated account should pass: %v", err)
	}
}

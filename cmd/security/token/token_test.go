package token

import (
	"errors"
	"strings"
	"testing"
)

func TestHasher_ZeroValueUsesSHA256(t *testing.T) {
	var h Hasher
	if h.Keyed() {
		t.Fatalf("zero hasher must not be keyed")
	}
	if got, want := h.Hex("abc"), HashSHA256Hex("abc"); got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestHasher_KeyedDiffersFromPlain(t *testing.T) {
	h := NewHasher([]byte(strings.Repeat("k", 32)))
	if !h.Keyed() {
		t.Fatalf("expected keyed hasher")
	}
	d := h.Hex("tok")
	if d == HashSHA256Hex("tok") {
		t.Fatalf("keyed digest must differ from plain sha256")
	}
	if len(d) != 64 {
		t.Fatalf("digest len=%d", len(d))
	}
	if !h.Matches("tok", d) {
		t.Fatalf("expected match")
	}
	if h.Matches("tok2", d) {
		t.Fatalf("unexpected match")
	}
}

func TestHasherFromEnv(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	h, err := HasherFromEnv(false, MinHMACKeyBytes)
	if err != nil || h.Keyed() {
		t.Fatalf("optional mode: keyed=%v err=%v", h.Keyed(), err)
	}

	if _, err := HasherFromEnv(true, MinHMACKeyBytes); !errors.Is(err, ErrHMACKeyMissing) {
		t.Fatalf("expected ErrHMACKeyMissing, got %v", err)
	}

	t.Setenv(HMACEnvKey, "short")
	_, err = HasherFromEnv(false, MinHMACKeyBytes)
	if !errors.Is(err, ErrHMACKeyTooShort) || !strings.Contains(err.Error(), "5 bytes, need 32") {
		t.Fatalf("expected ErrHMACKeyTooShort with lengths, got %v", err)
	}

	t.Setenv(HMACEnvKey, strings.Repeat("x", 40))
	h, err = HasherFromEnv(true, MinHMACKeyBytes)
	if err != nil || !h.Keyed() {
		t.Fatalf("required mode: keyed=%v err=%v", h.Keyed(), err)
	}
}

package session

import (
	"bytes"
	"errors"
	"testing"

	"github.com/peerchat/peerchat/internal/validation"
)

// TestDeriveKeyDeterministic tests that the same code always yields the
// same key on both sides.
func TestDeriveKeyDeterministic(t *testing.T) {
	a, err := DeriveKey("1234567890123456")
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	b, err := DeriveKey("1234567890123456")
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	if !bytes.Equal(a[:], b[:]) {
		t.Error("same code produced different keys")
	}

	var zero Key
	if bytes.Equal(a[:], zero[:]) {
		t.Error("derived key is all zeros")
	}
}

// TestDeriveKeyDistinct tests that codes differing in one digit do not
// collide.
func TestDeriveKeyDistinct(t *testing.T) {
	a, err := DeriveKey("1234567890123456")
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	b, err := DeriveKey("1234567890123457")
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	if bytes.Equal(a[:], b[:]) {
		t.Error("codes differing in one digit collided")
	}
}

// TestDeriveKeyValidatesFirst tests that a malformed code is rejected
// before any key material is produced.
func TestDeriveKeyValidatesFirst(t *testing.T) {
	for _, code := range []string{"", "123", "123456789012345x"} {
		_, err := DeriveKey(code)
		if !errors.Is(err, validation.ErrInvalidSessionCode) {
			t.Errorf("DeriveKey(%q) error = %v, want ErrInvalidSessionCode", code, err)
		}
	}
}

// TestFingerprint tests that the code hash is stable and does not leak
// the key bytes.
func TestFingerprint(t *testing.T) {
	key, err := DeriveKey("1234567890123456")
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}

	f1 := key.Fingerprint()
	f2 := key.Fingerprint()
	if !bytes.Equal(f1[:], f2[:]) {
		t.Error("fingerprint is not deterministic")
	}
	if bytes.Equal(f1[:], key[:]) {
		t.Error("fingerprint equals the key")
	}
	if len(f1.Hex()) != 64 {
		t.Errorf("fingerprint hex length = %d, want 64", len(f1.Hex()))
	}
}

// TestGenerateCode tests that generated codes pass validation and vary.
func TestGenerateCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 32; i++ {
		code, err := GenerateCode()
		if err != nil {
			t.Fatalf("GenerateCode failed: %v", err)
		}
		if err := validation.ValidateSessionCode(code); err != nil {
			t.Fatalf("generated code %q invalid: %v", code, err)
		}
		seen[code] = true
	}
	if len(seen) < 2 {
		t.Error("generated codes show no variation")
	}
}

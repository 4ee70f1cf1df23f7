package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/hkdf"

	"github.com/peerchat/peerchat/internal/validation"
)

const (
	// Domain separation strings for key derivation.
	keySaltString = "peerchat-v1"
	keyInfoString = "peerchat-v1-session-key"
)

// Key is the 256-bit symmetric session key. It is derived locally on
// both sides from the shared code and never transmitted or persisted.
type Key [32]byte

// Fingerprint is the 32-byte one-way code hash carried in handshake
// datagrams and stored in the session cache. It is computed over the
// derived key, so neither the code nor the key can be recovered from it.
type Fingerprint [32]byte

// DeriveKey maps a session code onto the session key using HKDF-SHA256.
// The derivation is deterministic and negotiation-free: both peers
// compute the identical key from the same code. The code is validated
// before any key material is produced.
func DeriveKey(code string) (Key, error) {
	if err := validation.ValidateSessionCode(code); err != nil {
		return Key{}, err
	}

	salt := sha256.Sum256([]byte(keySaltString))
	hkdfReader := hkdf.New(sha256.New, []byte(code), salt[:], []byte(keyInfoString))

	var key Key
	if _, err := io.ReadFull(hkdfReader, key[:]); err != nil {
		return Key{}, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, nil
}

// Fingerprint computes the BLAKE3 code hash of the key.
func (k Key) Fingerprint() Fingerprint {
	return Fingerprint(blake3.Sum256(k[:]))
}

// Hex returns the fingerprint as a hex string for logging and the cache
// record.
func (f Fingerprint) Hex() string {
	return hex.EncodeToString(f[:])
}

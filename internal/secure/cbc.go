// Package secure implements the per-message encryption pipeline:
// AES-256-CBC with PKCS#7 padding and a fresh random IV per message.
// The wire layout is iv || ciphertext; no integrity tag is carried, so
// a padding or format failure on decrypt is the only corruption signal.
package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrInvalidKeySize is returned when the provided key is not 32 bytes.
	ErrInvalidKeySize = errors.New("key must be exactly 32 bytes for AES-256")

	// ErrInvalidIVSize is returned when the IV is not one AES block.
	ErrInvalidIVSize = errors.New("iv must be exactly 16 bytes")

	// ErrInvalidCiphertext is returned when the ciphertext is empty or
	// not a whole number of blocks.
	ErrInvalidCiphertext = errors.New("ciphertext must be a non-zero multiple of the block size")

	// ErrBadPadding is returned when unpadding fails. The message is
	// corrupt, truncated, or was encrypted under a different key.
	ErrBadPadding = errors.New("invalid padding")
)

// Encrypt encrypts plaintext under AES-256-CBC with a freshly generated
// random 16-byte IV and PKCS#7 padding. Empty plaintext is valid and
// produces one full padding block.
func Encrypt(key []byte, plaintext []byte) (iv [aes.BlockSize]byte, ciphertext []byte, err error) {
	if len(key) != 32 {
		return iv, nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(key))
	}
	if _, err := io.ReadFull(rand.Reader, iv[:]); err != nil {
		return iv, nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return iv, nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	padded := pad(plaintext)
	ciphertext = make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(ciphertext, padded)
	return iv, ciphertext, nil
}

// Decrypt decrypts iv||ciphertext and removes the padding. A padding or
// format failure means the message must be dropped; it never aborts the
// session.
func Decrypt(key []byte, iv []byte, ciphertext []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(key))
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidIVSize, len(iv))
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidCiphertext, len(ciphertext))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)
	return unpad(padded)
}

// pad applies PKCS#7 padding to a whole number of AES blocks.
func pad(p []byte) []byte {
	n := aes.BlockSize - len(p)%aes.BlockSize
	padded := make([]byte, len(p)+n)
	copy(padded, p)
	for i := len(p); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

// unpad verifies and strips PKCS#7 padding.
func unpad(p []byte) ([]byte, error) {
	if len(p) == 0 || len(p)%aes.BlockSize != 0 {
		return nil, ErrBadPadding
	}
	n := int(p[len(p)-1])
	if n == 0 || n > aes.BlockSize {
		return nil, ErrBadPadding
	}
	for _, b := range p[len(p)-n:] {
		if int(b) != n {
			return nil, ErrBadPadding
		}
	}
	return p[:len(p)-n], nil
}

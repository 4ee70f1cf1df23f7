package session

import (
	"crypto/rand"
	"fmt"

	"github.com/peerchat/peerchat/internal/validation"
)

// GenerateCode produces a fresh 16-digit session code for the host to
// share out-of-band. Digits are drawn with rejection sampling so every
// digit is uniform.
func GenerateCode() (string, error) {
	digits := make([]byte, 0, validation.SessionCodeLength)
	buf := make([]byte, 32)
	for len(digits) < validation.SessionCodeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate session code: %w", err)
		}
		for _, b := range buf {
			// Reject bytes that would bias the modulo.
			if b >= 250 {
				continue
			}
			digits = append(digits, '0'+b%10)
			if len(digits) == validation.SessionCodeLength {
				break
			}
		}
	}
	return string(digits), nil
}

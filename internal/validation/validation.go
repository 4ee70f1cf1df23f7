package validation

import (
	"errors"
	"fmt"
	"net"
)

var (
	ErrInvalidSessionCode = errors.New("session code must be exactly 16 digits")
	ErrInvalidAddr        = errors.New("invalid destination address")
	ErrInvalidPort        = errors.New("invalid port")
	ErrEmptyString        = errors.New("value must not be empty")
	ErrOutOfRange         = errors.New("value out of range")
)

// SessionCodeLength is the exact number of ASCII digits in a session code.
const SessionCodeLength = 16

// ValidateSessionCode checks the shared code format before any network
// action is taken.
func ValidateSessionCode(code string) error {
	if len(code) != SessionCodeLength {
		return fmt.Errorf("%w: got %d characters", ErrInvalidSessionCode, len(code))
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return fmt.Errorf("%w: non-digit at position %d", ErrInvalidSessionCode, i)
		}
	}
	return nil
}

// ValidateUDPAddr resolves a host:port destination. "localhost", "local"
// and the empty string are treated as loopback.
func ValidateUDPAddr(host string, port int) (*net.UDPAddr, error) {
	if err := ValidatePort(port); err != nil {
		return nil, err
	}
	host = NormalizeHost(host)
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddr, err)
	}
	return addr, nil
}

// NormalizeHost maps the loopback aliases accepted at the prompt onto a
// resolvable host.
func NormalizeHost(host string) string {
	switch host {
	case "", "local", "localhost":
		return "127.0.0.1"
	default:
		return host
	}
}

// ValidatePort checks a UDP port number.
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: %d not in [1,65535]", ErrInvalidPort, port)
	}
	return nil
}

func ValidateStringNonEmpty(s string) error {
	if s == "" {
		return ErrEmptyString
	}
	return nil
}

func ValidateRangeInt(v, min, max int) error {
	if v < min || v > max {
		return fmt.Errorf("%w: %d not in [%d,%d]", ErrOutOfRange, v, min, max)
	}
	return nil
}

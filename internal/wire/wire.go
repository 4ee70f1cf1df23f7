// Package wire defines the UDP datagram format.
//
// Every datagram is a one-byte type tag followed by the fields of that
// type:
//
//	HANDSHAKE      0x01 | code_hash (32 bytes)
//	HANDSHAKE_ACK  0x02 | code_hash (32 bytes)
//	PUNCH          0x03 | (empty)
//	MESSAGE        0x04 | iv (16 bytes) | ciphertext (variable)
//
// Datagrams that do not parse are discarded by the receiver without a
// reply, so the framer reports precise errors but never answers them.
package wire

import (
	"errors"
	"fmt"
)

// Type tags a datagram on the wire.
type Type uint8

const (
	TypeHandshake Type = iota + 1
	TypeHandshakeAck
	TypePunch
	TypeMessage
)

func (t Type) String() string {
	switch t {
	case TypeHandshake:
		return "HANDSHAKE"
	case TypeHandshakeAck:
		return "HANDSHAKE_ACK"
	case TypePunch:
		return "PUNCH"
	case TypeMessage:
		return "MESSAGE"
	default:
		return "UNKNOWN"
	}
}

const (
	// CodeHashSize is the length of the code hash carried by handshake
	// datagrams.
	CodeHashSize = 32

	// IVSize is the length of the per-message initialization vector.
	IVSize = 16

	// MaxDatagramSize caps what the framer will produce or accept. It is
	// the largest UDP payload deliverable over IPv4.
	MaxDatagramSize = 65507
)

var (
	ErrEmptyDatagram = errors.New("empty datagram")
	ErrUnknownType   = errors.New("unknown datagram type")
	ErrTruncated     = errors.New("truncated datagram")
	ErrOversize      = errors.New("datagram exceeds maximum size")
)

// Datagram is the tagged wire variant. Only the fields of the tagged
// type are meaningful.
type Datagram struct {
	Type       Type
	CodeHash   [CodeHashSize]byte // HANDSHAKE, HANDSHAKE_ACK
	IV         [IVSize]byte       // MESSAGE
	Ciphertext []byte             // MESSAGE
}

// NewHandshake builds a HANDSHAKE datagram carrying the code hash.
func NewHandshake(codeHash [CodeHashSize]byte) Datagram {
	return Datagram{Type: TypeHandshake, CodeHash: codeHash}
}

// NewHandshakeAck builds a HANDSHAKE_ACK datagram carrying the code hash.
func NewHandshakeAck(codeHash [CodeHashSize]byte) Datagram {
	return Datagram{Type: TypeHandshakeAck, CodeHash: codeHash}
}

// NewPunch builds an empty PUNCH keep-alive datagram.
func NewPunch() Datagram {
	return Datagram{Type: TypePunch}
}

// NewMessage builds a MESSAGE datagram wrapping iv||ciphertext.
func NewMessage(iv [IVSize]byte, ciphertext []byte) Datagram {
	return Datagram{Type: TypeMessage, IV: iv, Ciphertext: ciphertext}
}

// Encode serializes the datagram into wire bytes.
func (d Datagram) Encode() ([]byte, error) {
	switch d.Type {
	case TypeHandshake, TypeHandshakeAck:
		buf := make([]byte, 1+CodeHashSize)
		buf[0] = byte(d.Type)
		copy(buf[1:], d.CodeHash[:])
		return buf, nil
	case TypePunch:
		return []byte{byte(TypePunch)}, nil
	case TypeMessage:
		if len(d.Ciphertext) == 0 {
			return nil, fmt.Errorf("%w: message without ciphertext", ErrTruncated)
		}
		if 1+IVSize+len(d.Ciphertext) > MaxDatagramSize {
			return nil, ErrOversize
		}
		buf := make([]byte, 1+IVSize+len(d.Ciphertext))
		buf[0] = byte(TypeMessage)
		copy(buf[1:1+IVSize], d.IV[:])
		copy(buf[1+IVSize:], d.Ciphertext)
		return buf, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, d.Type)
	}
}

// Decode parses wire bytes into a datagram.
func Decode(buf []byte) (Datagram, error) {
	if len(buf) == 0 {
		return Datagram{}, ErrEmptyDatagram
	}
	if len(buf) > MaxDatagramSize {
		return Datagram{}, ErrOversize
	}

	var d Datagram
	switch Type(buf[0]) {
	case TypeHandshake, TypeHandshakeAck:
		if len(buf) != 1+CodeHashSize {
			return Datagram{}, fmt.Errorf("%w: handshake needs %d bytes, got %d",
				ErrTruncated, 1+CodeHashSize, len(buf))
		}
		d.Type = Type(buf[0])
		copy(d.CodeHash[:], buf[1:])
		return d, nil
	case TypePunch:
		if len(buf) != 1 {
			return Datagram{}, fmt.Errorf("%w: punch carries no fields", ErrTruncated)
		}
		d.Type = TypePunch
		return d, nil
	case TypeMessage:
		if len(buf) < 1+IVSize+1 {
			return Datagram{}, fmt.Errorf("%w: message needs at least %d bytes, got %d",
				ErrTruncated, 1+IVSize+1, len(buf))
		}
		d.Type = TypeMessage
		copy(d.IV[:], buf[1:1+IVSize])
		d.Ciphertext = make([]byte, len(buf)-1-IVSize)
		copy(d.Ciphertext, buf[1+IVSize:])
		return d, nil
	default:
		return Datagram{}, fmt.Errorf("%w: 0x%02x", ErrUnknownType, buf[0])
	}
}

// Package session defines the session aggregate: the shared code, the
// key derived from it, the peer endpoint learned during the handshake,
// and the lifecycle state. At most one session exists per process.
package session

import (
	"crypto/subtle"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role indicates which side of the session this process plays.
type Role int

const (
	RoleHost Role = iota + 1
	RoleGuest
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleGuest:
		return "guest"
	default:
		return "unknown"
	}
}

// State represents the session lifecycle state.
type State int

const (
	StateIdle State = iota + 1
	StateAwaitHello
	StateAwaitAck
	StateEstablished
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAwaitHello:
		return "AWAIT_HELLO"
	case StateAwaitAck:
		return "AWAIT_ACK"
	case StateEstablished:
		return "ESTABLISHED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Session is the aggregate shared by the receiver, sender and keep-alive
// activities. State, peer endpoint and liveness timestamp are mutated
// from all three, so every access goes through the mutex.
type Session struct {
	ID        string
	Role      Role
	CodeHash  Fingerprint
	CreatedAt time.Time

	key Key

	mu       sync.Mutex
	state    State
	peer     *net.UDPAddr
	lastSeen time.Time
}

// New derives the key from the code and returns an idle session. The
// code itself is not retained; only the key and its fingerprint are.
func New(role Role, code string) (*Session, error) {
	key, err := DeriveKey(code)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	return &Session{
		ID:        uuid.New().String(),
		Role:      role,
		CodeHash:  key.Fingerprint(),
		CreatedAt: now,
		key:       key,
		state:     StateIdle,
		lastSeen:  now,
	}, nil
}

// Key returns the derived session key.
func (s *Session) Key() Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState transitions the session. Transitions out of CLOSED are
// ignored; teardown is terminal.
func (s *Session) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = state
}

// Established reports whether the handshake has completed.
func (s *Session) Established() bool {
	return s.State() == StateEstablished
}

// Peer returns the learned peer endpoint, or nil before the handshake.
func (s *Session) Peer() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// SetPeer records the remote endpoint.
func (s *Session) SetPeer(addr *net.UDPAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peer = addr
}

// Touch refreshes the liveness timestamp. Called on any inbound traffic.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = time.Now()
}

// SinceLastSeen returns the silence duration since the last inbound
// traffic.
func (s *Session) SinceLastSeen() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastSeen)
}

// Matches compares an inbound code hash against our own in constant
// time. Mismatches are silently discarded by the caller.
func (s *Session) Matches(h Fingerprint) bool {
	return subtle.ConstantTimeCompare(h[:], s.CodeHash[:]) == 1
}

// Close transitions to CLOSED and wipes the key material.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
	s.peer = nil
	for i := range s.key {
		s.key[i] = 0
	}
}

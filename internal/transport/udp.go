// Package transport owns the UDP socket. Semantics are fire-and-forget:
// no retransmission happens here; any reliability is layered above by
// the handshake state machine.
package transport

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/peerchat/peerchat/internal/wire"
)

var (
	// ErrMalformed wraps wire decode failures on receive so callers can
	// silently discard them without replying.
	ErrMalformed = errors.New("malformed datagram")

	// ErrNetwork marks bind and send failures. Fatal for the current
	// attempt.
	ErrNetwork = errors.New("network failure")
)

// Conn wraps one UDP socket. It is safe for one concurrent reader and
// any number of concurrent writers, which is exactly how the chat loop
// uses it (one receiver, sender plus keep-alive as writers).
type Conn struct {
	conn *net.UDPConn
}

// Listen binds the local UDP socket. Port 0 requests an OS-assigned
// port; the host reads it back via Port for display.
func Listen(port int) (*Conn, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return nil, fmt.Errorf("%w: bind UDP port %d: %w", ErrNetwork, port, err)
	}
	return &Conn{conn: conn}, nil
}

// LocalAddr returns the bound local address.
func (c *Conn) LocalAddr() *net.UDPAddr {
	return c.conn.LocalAddr().(*net.UDPAddr)
}

// Port returns the bound local port.
func (c *Conn) Port() int {
	return c.LocalAddr().Port
}

// Send serializes and transmits one datagram to the destination.
func (c *Conn) Send(d wire.Datagram, dst *net.UDPAddr) error {
	buf, err := d.Encode()
	if err != nil {
		return err
	}
	if _, err := c.conn.WriteToUDP(buf, dst); err != nil {
		return fmt.Errorf("%w: send to %s: %w", ErrNetwork, dst, err)
	}
	return nil
}

// Receive blocks until a datagram arrives, the timeout fires, or the
// socket is closed. Undecodable payloads return ErrMalformed with the
// source address so the caller can count the discard.
func (c *Conn) Receive(timeout time.Duration) (wire.Datagram, *net.UDPAddr, error) {
	if timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return wire.Datagram{}, nil, err
		}
	}

	buf := make([]byte, wire.MaxDatagramSize)
	n, src, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		return wire.Datagram{}, nil, err
	}

	d, err := wire.Decode(buf[:n])
	if err != nil {
		return wire.Datagram{}, src, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return d, src, nil
}

// Close releases the socket, unblocking any pending Receive.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// IsTimeout reports whether err is a read deadline expiry.
func IsTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// IsClosed reports whether err came from a deliberately closed socket.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

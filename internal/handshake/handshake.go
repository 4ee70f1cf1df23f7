// Package handshake drives session establishment for both roles.
//
// Host: IDLE → AWAIT_HELLO → ESTABLISHED. The host listens until a
// HANDSHAKE with a matching code hash arrives, records the sender as the
// peer endpoint and replies HANDSHAKE_ACK.
//
// Guest: IDLE → AWAIT_ACK → ESTABLISHED. The guest sends HANDSHAKE to
// the supplied target and retransmits on a fixed schedule until a
// matching HANDSHAKE_ACK arrives or the retries are exhausted.
//
// Datagrams with a mismatched or malformed code hash are silently
// discarded and never answered, so probing traffic learns nothing about
// session validity.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/peerchat/peerchat/internal/config"
	"github.com/peerchat/peerchat/internal/observability"
	"github.com/peerchat/peerchat/internal/session"
	"github.com/peerchat/peerchat/internal/transport"
	"github.com/peerchat/peerchat/internal/wire"
)

// ErrHandshakeTimeout is returned when no matching reply arrives within
// the configured retries. The session is back in IDLE and may be retried.
var ErrHandshakeTimeout = errors.New("handshake timed out")

const tracerName = "github.com/peerchat/peerchat/internal/handshake"

// Handshaker runs the establishment state machine over an owned socket
// and session.
type Handshaker struct {
	conn    *transport.Conn
	sess    *session.Session
	cfg     *config.Config
	log     *observability.Logger
	metrics *observability.Metrics
}

// New creates a handshaker for the given socket and session.
func New(conn *transport.Conn, sess *session.Session, cfg *config.Config, log *observability.Logger, metrics *observability.Metrics) *Handshaker {
	return &Handshaker{
		conn:    conn,
		sess:    sess,
		cfg:     cfg,
		log:     log,
		metrics: metrics,
	}
}

// Run drives the handshake to ESTABLISHED or an error. For the guest,
// target is the host's resolved endpoint; the host learns its peer from
// the first matching inbound datagram and ignores target.
func (h *Handshaker) Run(ctx context.Context, target *net.UDPAddr) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "handshake")
	span.SetAttributes(attribute.String("role", h.sess.Role.String()))
	defer span.End()

	start := time.Now()
	var err error
	switch h.sess.Role {
	case session.RoleHost:
		err = h.runHost(ctx)
	case session.RoleGuest:
		err = h.runGuest(ctx, target)
	default:
		err = fmt.Errorf("unknown role %d", h.sess.Role)
	}

	h.metrics.RecordHandshake(err == nil, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// runHost waits in AWAIT_HELLO for a matching HANDSHAKE.
func (h *Handshaker) runHost(ctx context.Context) error {
	h.sess.SetState(session.StateAwaitHello)
	start := time.Now()
	deadline := start.Add(h.cfg.HostAcceptTimeout)

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			h.sess.SetState(session.StateIdle)
			return err
		}

		d, src, err := h.conn.Receive(h.cfg.ReadTimeout)
		switch {
		case err == nil:
		case transport.IsTimeout(err):
			continue
		case errors.Is(err, transport.ErrMalformed):
			h.metrics.RecordDiscarded("malformed")
			h.log.DatagramDiscarded(src.String(), "malformed")
			continue
		default:
			h.sess.SetState(session.StateIdle)
			return fmt.Errorf("handshake receive: %w", err)
		}

		h.sess.Touch()
		h.metrics.RecordReceived(d.Type.String())

		if d.Type != wire.TypeHandshake {
			h.metrics.RecordDiscarded("unexpected_type")
			h.log.DatagramDiscarded(src.String(), "unexpected type "+d.Type.String())
			continue
		}
		if !h.sess.Matches(session.Fingerprint(d.CodeHash)) {
			h.metrics.RecordDiscarded("code_mismatch")
			h.log.DatagramDiscarded(src.String(), "code mismatch")
			continue
		}

		h.sess.SetPeer(src)
		ack := wire.NewHandshakeAck([wire.CodeHashSize]byte(h.sess.CodeHash))
		if err := h.conn.Send(ack, src); err != nil {
			h.sess.SetState(session.StateIdle)
			return fmt.Errorf("handshake ack: %w", err)
		}
		h.metrics.RecordSent(wire.TypeHandshakeAck.String())

		h.sess.SetState(session.StateEstablished)
		h.log.HandshakeEstablished(src.String(), 1, time.Since(start))
		return nil
	}

	h.sess.SetState(session.StateIdle)
	return fmt.Errorf("%w: no matching hello within %s", ErrHandshakeTimeout, h.cfg.HostAcceptTimeout)
}

// runGuest retransmits HANDSHAKE until a matching HANDSHAKE_ACK arrives.
func (h *Handshaker) runGuest(ctx context.Context, target *net.UDPAddr) error {
	if target == nil {
		return errors.New("guest handshake requires a target endpoint")
	}
	h.sess.SetPeer(target)
	hello := wire.NewHandshake([wire.CodeHashSize]byte(h.sess.CodeHash))
	start := time.Now()

	for attempt := 1; attempt <= h.cfg.HandshakeRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			h.sess.SetState(session.StateIdle)
			return err
		}

		if err := h.conn.Send(hello, target); err != nil {
			h.sess.SetState(session.StateIdle)
			return fmt.Errorf("handshake send: %w", err)
		}
		h.metrics.RecordSent(wire.TypeHandshake.String())
		h.sess.SetState(session.StateAwaitAck)
		if attempt > 1 {
			h.log.HandshakeRetry(attempt, h.cfg.HandshakeRetries)
		}

		attemptDeadline := time.Now().Add(h.cfg.HandshakeTimeout)
		for {
			remaining := time.Until(attemptDeadline)
			if remaining <= 0 {
				break
			}

			d, src, err := h.conn.Receive(remaining)
			switch {
			case err == nil:
			case transport.IsTimeout(err):
				continue
			case errors.Is(err, transport.ErrMalformed):
				h.metrics.RecordDiscarded("malformed")
				h.log.DatagramDiscarded(src.String(), "malformed")
				continue
			default:
				h.sess.SetState(session.StateIdle)
				return fmt.Errorf("handshake receive: %w", err)
			}

			h.sess.Touch()
			h.metrics.RecordReceived(d.Type.String())

			if d.Type != wire.TypeHandshakeAck {
				h.metrics.RecordDiscarded("unexpected_type")
				h.log.DatagramDiscarded(src.String(), "unexpected type "+d.Type.String())
				continue
			}
			if !h.sess.Matches(session.Fingerprint(d.CodeHash)) {
				h.metrics.RecordDiscarded("code_mismatch")
				h.log.DatagramDiscarded(src.String(), "code mismatch")
				continue
			}

			// The ack source may differ from the dialed target when the
			// host sits behind a NAT; trust what actually answered.
			h.sess.SetPeer(src)
			h.sess.SetState(session.StateEstablished)
			h.log.HandshakeEstablished(src.String(), attempt, time.Since(start))
			return nil
		}
	}

	h.sess.SetState(session.StateIdle)
	return fmt.Errorf("%w: no matching ack after %d attempts", ErrHandshakeTimeout, h.cfg.HandshakeRetries)
}

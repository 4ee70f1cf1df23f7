// Package chat orchestrates an established session: a receiver task, a
// sender task reading user input, and the keep-alive scheduler. The
// three share one Session; every shared mutation goes through the
// session's own lock.
package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/peerchat/peerchat/internal/config"
	"github.com/peerchat/peerchat/internal/observability"
	"github.com/peerchat/peerchat/internal/ratelimit"
	"github.com/peerchat/peerchat/internal/secure"
	"github.com/peerchat/peerchat/internal/session"
	"github.com/peerchat/peerchat/internal/transport"
	"github.com/peerchat/peerchat/internal/wire"
)

// ExitCommand tears the session down and returns control to the caller.
const ExitCommand = "/exit"

// Loop runs one established session until exit or fatal failure.
type Loop struct {
	cfg     *config.Config
	sess    *session.Session
	conn    *transport.Conn
	cache   *session.Cache
	log     *observability.Logger
	metrics *observability.Metrics

	// ackLimiter bounds re-replies to retransmitted handshakes.
	ackLimiter *ratelimit.TokenBucket

	input  io.Reader
	output io.Writer

	wg     sync.WaitGroup
	cancel context.CancelFunc

	failMu   sync.Mutex
	fatalErr error
}

// New creates a chat loop over an established session. input is the
// user's line source (stdin in the CLI), output the message display.
func New(cfg *config.Config, sess *session.Session, conn *transport.Conn, cache *session.Cache,
	log *observability.Logger, metrics *observability.Metrics, input io.Reader, output io.Writer) *Loop {
	return &Loop{
		cfg:        cfg,
		sess:       sess,
		conn:       conn,
		cache:      cache,
		log:        log,
		metrics:    metrics,
		ackLimiter: ratelimit.NewTokenBucket(1, 3),
		input:      input,
		output:     output,
	}
}

// Run drives the session until the exit command, input EOF, context
// cancellation, or a fatal transport failure. Teardown is deterministic
// on every path: socket closed, cache entry purged, session state
// cleared.
func (l *Loop) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	if err := l.writeCacheEntry(); err != nil {
		l.log.Error(err, "failed to write session cache entry")
	}

	l.metrics.SessionsActive.Inc()
	defer l.teardown()

	l.wg.Add(2)
	go l.receiveLoop(ctx)
	go l.keepAliveLoop(ctx)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(l.input)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		close(lines)
	}()

	fmt.Fprintf(l.output, "Type messages to send. Use %s to terminate the session.\n", ExitCommand)

	for {
		select {
		case <-ctx.Done():
			return l.failure()
		case line, ok := <-lines:
			if !ok {
				// Input EOF behaves like an explicit exit.
				return l.failure()
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if strings.EqualFold(line, ExitCommand) {
				return l.failure()
			}
			if err := l.sendMessage(line); err != nil {
				if errors.Is(err, transport.ErrNetwork) {
					l.fail(err)
					return l.failure()
				}
				l.log.Error(err, "failed to send message")
			}
		}
	}
}

// sendMessage encrypts one line and ships it to the peer.
func (l *Loop) sendMessage(text string) error {
	peer := l.sess.Peer()
	if peer == nil {
		fmt.Fprintln(l.output, "Peer not yet known. Waiting for handshake...")
		return nil
	}

	key := l.sess.Key()
	iv, ciphertext, err := secure.Encrypt(key[:], []byte(text))
	if err != nil {
		return err
	}
	if err := l.conn.Send(wire.NewMessage(iv, ciphertext), peer); err != nil {
		return err
	}
	l.metrics.RecordSent(wire.TypeMessage.String())
	l.metrics.MessagesSentTotal.Inc()
	return nil
}

// receiveLoop continuously receives datagrams and dispatches by type.
// Display order follows arrival order; the transport is unordered.
func (l *Loop) receiveLoop(ctx context.Context) {
	defer l.wg.Done()

	var lastStaleWarn time.Time
	for {
		if ctx.Err() != nil {
			return
		}

		d, src, err := l.conn.Receive(l.cfg.ReadTimeout)
		switch {
		case err == nil:
		case transport.IsTimeout(err):
			l.checkLiveness(&lastStaleWarn)
			continue
		case transport.IsClosed(err):
			return
		case errors.Is(err, transport.ErrMalformed):
			l.metrics.RecordDiscarded("malformed")
			l.log.DatagramDiscarded(src.String(), "malformed")
			continue
		default:
			if ctx.Err() == nil {
				l.fail(fmt.Errorf("receive failed: %w", err))
			}
			return
		}

		l.sess.Touch()
		l.metrics.RecordReceived(d.Type.String())

		switch d.Type {
		case wire.TypePunch:
			// Liveness only; the Touch above is the whole effect.

		case wire.TypeMessage:
			key := l.sess.Key()
			plaintext, err := secure.Decrypt(key[:], d.IV[:], d.Ciphertext)
			if err != nil {
				l.metrics.DecryptFailuresTotal.Inc()
				l.log.MessageDropped(src.String(), len(d.Ciphertext), err)
				continue
			}
			l.metrics.MessagesReceivedTotal.Inc()
			fmt.Fprintf(l.output, "Peer: %s\n", plaintext)

		case wire.TypeHandshake:
			// The peer's retransmit may have raced our ack; re-answer a
			// matching hello, rate-limited against spoofed sources.
			if !l.sess.Matches(session.Fingerprint(d.CodeHash)) {
				l.metrics.RecordDiscarded("code_mismatch")
				l.log.DatagramDiscarded(src.String(), "code mismatch")
				continue
			}
			if !l.ackLimiter.Allow(1) {
				l.metrics.RecordDiscarded("ack_rate_limited")
				continue
			}
			l.sess.SetPeer(src)
			ack := wire.NewHandshakeAck([wire.CodeHashSize]byte(l.sess.CodeHash))
			if err := l.conn.Send(ack, src); err == nil {
				l.metrics.RecordSent(wire.TypeHandshakeAck.String())
			}

		case wire.TypeHandshakeAck:
			// Duplicate ack after establishment; nothing to do.

		default:
			l.metrics.RecordDiscarded("unexpected_type")
			l.log.DatagramDiscarded(src.String(), "unexpected type")
		}
	}
}

// checkLiveness warns, non-fatally, when the peer has been silent past
// the liveness window. The session stays open; the user decides.
func (l *Loop) checkLiveness(lastWarn *time.Time) {
	silence := l.sess.SinceLastSeen()
	if silence < l.cfg.LivenessTimeout {
		return
	}
	if time.Since(*lastWarn) < l.cfg.LivenessTimeout {
		return
	}
	*lastWarn = time.Now()
	peer := "unknown"
	if p := l.sess.Peer(); p != nil {
		peer = p.String()
	}
	l.log.PeerStale(peer, silence)
	fmt.Fprintf(l.output, "Peer unreachable for %s. Session stays open; %s to leave.\n",
		silence.Round(time.Second), ExitCommand)
}

// writeCacheEntry mirrors session start into the ephemeral cache. The
// record never contains plaintext or key material.
func (l *Loop) writeCacheEntry() error {
	entry := session.CacheEntry{
		CodeHash:  l.sess.CodeHash.Hex(),
		CreatedAt: l.sess.CreatedAt,
	}
	if peer := l.sess.Peer(); peer != nil {
		entry.PeerIP = peer.IP.String()
		entry.PeerPort = peer.Port
	}
	return l.cache.Put(l.sess.ID, entry)
}

// teardown releases everything exactly once: cancel the tasks, close
// the socket (unblocking any pending receive), purge the cache entry
// and clear the session.
func (l *Loop) teardown() {
	l.cancel()
	_ = l.conn.Close()
	l.wg.Wait()

	if err := l.cache.Purge(l.sess.ID); err != nil {
		l.log.Error(err, "failed to purge session cache entry")
	}
	lifetime := time.Since(l.sess.CreatedAt)
	l.sess.Close()
	l.metrics.SessionsActive.Dec()
	l.log.SessionClosed(l.sess.ID, lifetime)
}

// fail records the first fatal error and stops the loop.
func (l *Loop) fail(err error) {
	l.failMu.Lock()
	if l.fatalErr == nil {
		l.fatalErr = err
	}
	l.failMu.Unlock()
	l.cancel()
}

func (l *Loop) failure() error {
	l.failMu.Lock()
	defer l.failMu.Unlock()
	return l.fatalErr
}

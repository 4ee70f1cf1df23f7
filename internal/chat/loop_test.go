package chat

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/peerchat/peerchat/internal/config"
	"github.com/peerchat/peerchat/internal/handshake"
	"github.com/peerchat/peerchat/internal/observability"
	"github.com/peerchat/peerchat/internal/secure"
	"github.com/peerchat/peerchat/internal/session"
	"github.com/peerchat/peerchat/internal/transport"
	"github.com/peerchat/peerchat/internal/wire"
)

// syncBuffer is a concurrency-safe display sink for the receiver task.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.HandshakeTimeout = 200 * time.Millisecond
	cfg.HandshakeRetries = 5
	cfg.HostAcceptTimeout = 5 * time.Second
	cfg.KeepAliveInterval = 50 * time.Millisecond
	cfg.LivenessTimeout = 5 * time.Second
	cfg.ReadTimeout = 100 * time.Millisecond
	return cfg
}

func testLogger() *observability.Logger {
	return observability.NewLogger("chat-test", "0", io.Discard)
}

func openTestCache(t *testing.T) *session.Cache {
	t.Helper()
	cache, err := session.OpenCache(t.TempDir())
	if err != nil {
		t.Fatalf("OpenCache failed: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

// establishedSession returns a socket and a session already in the
// ESTABLISHED state, peered with the given endpoint.
func establishedSession(t *testing.T, role session.Role, code string, peer *net.UDPAddr) (*transport.Conn, *session.Session) {
	t.Helper()
	conn, err := transport.Listen(0)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	sess, err := session.New(role, code)
	if err != nil {
		t.Fatalf("session.New failed: %v", err)
	}
	sess.SetPeer(peer)
	sess.SetState(session.StateEstablished)
	return conn, sess
}

func waitForOutput(t *testing.T, out *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(out.String(), want) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("output %q never appeared; got:\n%s", want, out.String())
}

// TestEndToEndChat runs the full scenario: host and guest with the same
// code handshake over loopback, the host sends "hello", the guest
// decrypts and displays exactly that, and teardown purges both cache
// entries and frees the ports.
func TestEndToEndChat(t *testing.T) {
	const code = "1234567890123456"
	cfg := testConfig()
	logger := testLogger()
	metrics := observability.NewMetrics()

	hostConn, err := transport.Listen(0)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	guestConn, err := transport.Listen(0)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	hostPort := hostConn.Port()
	guestPort := guestConn.Port()

	hostSess, err := session.New(session.RoleHost, code)
	if err != nil {
		t.Fatalf("session.New failed: %v", err)
	}
	guestSess, err := session.New(session.RoleGuest, code)
	if err != nil {
		t.Fatalf("session.New failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	hostHS := make(chan error, 1)
	go func() {
		hostHS <- handshake.New(hostConn, hostSess, cfg, logger, metrics).Run(ctx, nil)
	}()
	target := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: hostPort}
	if err := handshake.New(guestConn, guestSess, cfg, logger, metrics).Run(ctx, target); err != nil {
		t.Fatalf("guest handshake failed: %v", err)
	}
	if err := <-hostHS; err != nil {
		t.Fatalf("host handshake failed: %v", err)
	}

	hostCache := openTestCache(t)
	guestCache := openTestCache(t)

	guestIn, guestInWriter := io.Pipe()
	guestOut := &syncBuffer{}
	guestLoop := New(cfg, guestSess, guestConn, guestCache, logger, metrics, guestIn, guestOut)
	guestDone := make(chan error, 1)
	go func() { guestDone <- guestLoop.Run(ctx) }()

	// The host sends one message; input EOF then exits its loop.
	hostLoop := New(cfg, hostSess, hostConn, hostCache, logger, metrics,
		strings.NewReader("hello\n"), io.Discard)
	if err := hostLoop.Run(ctx); err != nil {
		t.Fatalf("host loop failed: %v", err)
	}

	waitForOutput(t, guestOut, "Peer: hello")

	if _, err := guestInWriter.Write([]byte(ExitCommand + "\n")); err != nil {
		t.Fatalf("guest exit failed: %v", err)
	}
	select {
	case err := <-guestDone:
		if err != nil {
			t.Fatalf("guest loop failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("guest loop did not exit")
	}

	// Cache entries are purged on both sides.
	if _, found, _ := hostCache.Get(hostSess.ID); found {
		t.Error("host cache entry survives teardown")
	}
	if _, found, _ := guestCache.Get(guestSess.ID); found {
		t.Error("guest cache entry survives teardown")
	}

	// Sessions are terminal.
	if hostSess.State() != session.StateClosed {
		t.Errorf("host state = %s, want CLOSED", hostSess.State())
	}
	if guestSess.State() != session.StateClosed {
		t.Errorf("guest state = %s, want CLOSED", guestSess.State())
	}

	// Ports are immediately rebindable.
	for _, port := range []int{hostPort, guestPort} {
		rebind, err := transport.Listen(port)
		if err != nil {
			t.Errorf("rebind of port %d failed: %v", port, err)
			continue
		}
		rebind.Close()
	}
}

// TestUndecryptableMessageDropped tests that corrupt ciphertext is
// dropped with the session intact: a valid message afterwards still
// arrives.
func TestUndecryptableMessageDropped(t *testing.T) {
	const code = "1234567890123456"
	cfg := testConfig()
	logger := testLogger()
	metrics := observability.NewMetrics()

	remote, err := transport.Listen(0)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer remote.Close()

	conn, sess := establishedSession(t, session.RoleGuest, code,
		&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: remote.Port()})
	local := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: conn.Port()}

	in, inWriter := io.Pipe()
	out := &syncBuffer{}
	loop := New(cfg, sess, conn, openTestCache(t), logger, metrics, in, out)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	// Garbage that frames as a MESSAGE but cannot decrypt.
	var iv [wire.IVSize]byte
	junk := make([]byte, 32)
	if _, err := rand.Read(junk); err != nil {
		t.Fatalf("rand failed: %v", err)
	}
	if err := remote.Send(wire.NewMessage(iv, junk), local); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// A well-formed message under the shared key still gets through.
	key := sess.Key()
	goodIV, ciphertext, err := secure.Encrypt(key[:], []byte("after the noise"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if err := remote.Send(wire.NewMessage(goodIV, ciphertext), local); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	waitForOutput(t, out, "Peer: after the noise")
	if strings.Contains(out.String(), string(junk)) {
		t.Error("garbage ciphertext reached the display")
	}

	if _, err := inWriter.Write([]byte(ExitCommand + "\n")); err != nil {
		t.Fatalf("exit failed: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("loop failed: %v", err)
	}
}

// TestKeepAliveAndReAck tests that the loop punches on the keep-alive
// interval, re-acks a matching retransmitted hello, and stays silent
// toward a mismatched one.
func TestKeepAliveAndReAck(t *testing.T) {
	const code = "1234567890123456"
	cfg := testConfig()
	logger := testLogger()
	metrics := observability.NewMetrics()

	remote, err := transport.Listen(0)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer remote.Close()

	conn, sess := establishedSession(t, session.RoleGuest, code,
		&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: remote.Port()})
	local := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: conn.Port()}

	in, inWriter := io.Pipe()
	loop := New(cfg, sess, conn, openTestCache(t), logger, metrics, in, io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	// Punches should arrive within a few intervals.
	gotPunch := false
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && !gotPunch {
		d, _, err := remote.Receive(500 * time.Millisecond)
		if err != nil {
			continue
		}
		if d.Type == wire.TypePunch {
			gotPunch = true
		}
	}
	if !gotPunch {
		t.Fatal("no punch datagram within the keep-alive window")
	}

	// A retransmitted matching hello draws a fresh ack.
	if err := remote.Send(wire.NewHandshake([wire.CodeHashSize]byte(sess.CodeHash)), local); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	gotAck := false
	deadline = time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && !gotAck {
		d, _, err := remote.Receive(500 * time.Millisecond)
		if err != nil {
			continue
		}
		if d.Type == wire.TypeHandshakeAck {
			gotAck = true
		}
	}
	if !gotAck {
		t.Fatal("matching hello was not re-acked")
	}

	// A mismatched hello draws punches at most, never an ack.
	other, err := session.New(session.RoleGuest, "6543210987654321")
	if err != nil {
		t.Fatalf("session.New failed: %v", err)
	}
	if err := remote.Send(wire.NewHandshake([wire.CodeHashSize]byte(other.CodeHash)), local); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	quiet := time.Now().Add(600 * time.Millisecond)
	for time.Now().Before(quiet) {
		d, _, err := remote.Receive(200 * time.Millisecond)
		if err != nil {
			continue
		}
		if d.Type == wire.TypeHandshakeAck {
			t.Fatal("mismatched hello was answered")
		}
	}

	if _, err := inWriter.Write([]byte(ExitCommand + "\n")); err != nil {
		t.Fatalf("exit failed: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("loop failed: %v", err)
	}
}

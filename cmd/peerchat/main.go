package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/peerchat/peerchat/internal/chat"
	"github.com/peerchat/peerchat/internal/config"
	"github.com/peerchat/peerchat/internal/handshake"
	"github.com/peerchat/peerchat/internal/observability"
	"github.com/peerchat/peerchat/internal/session"
	"github.com/peerchat/peerchat/internal/transport"
	"github.com/peerchat/peerchat/internal/validation"
)

const version = "1.0.0"

var (
	roleFlag    string
	codeFlag    string
	addrFlag    string
	portFlag    int
	listenFlag  int
	metricsFlag string
	jsonLogs    bool
)

func main() {
	flag.StringVar(&roleFlag, "role", "", "Session role: host or guest (prompted if omitted)")
	flag.StringVar(&codeFlag, "code", "", "16-digit session code (host generates one if omitted)")
	flag.StringVar(&addrFlag, "addr", "", "Host address to dial (guest only; localhost/local/empty = loopback)")
	flag.IntVar(&portFlag, "port", 0, "Host port to dial (guest only)")
	flag.IntVar(&listenFlag, "listen", 0, "Local UDP port to bind (0 = OS-assigned)")
	flag.StringVar(&metricsFlag, "metrics", "", "Expose /metrics and /health on this address (disabled if empty)")
	flag.BoolVar(&jsonLogs, "json", false, "Emit structured JSON logs instead of console output")
	flag.Parse()

	var logger *observability.Logger
	if jsonLogs {
		logger = observability.NewLogger("peerchat", version, os.Stderr)
	} else {
		logger = observability.NewConsoleLogger("peerchat", os.Stderr)
	}

	if shutdown, err := observability.InitTracing(context.Background(), "peerchat"); err == nil {
		defer shutdown(context.Background())
	}

	cfg := config.LoadConfig()
	if listenFlag != 0 {
		cfg.ListenPort = listenFlag
	}
	if metricsFlag != "" {
		cfg.MetricsAddress = metricsFlag
	}
	metrics := observability.NewMetrics()

	if err := run(cfg, logger, metrics); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) error {
	role, err := resolveRole(roleFlag)
	if err != nil {
		return err
	}

	var code string
	var target *net.UDPAddr
	switch role {
	case session.RoleHost:
		code = codeFlag
		if code == "" {
			code, err = session.GenerateCode()
			if err != nil {
				return err
			}
		}
	case session.RoleGuest:
		code, target, err = resolveGuestInputs(codeFlag, addrFlag, portFlag)
		if err != nil {
			return err
		}
	}

	// Validation happens here, before any socket is touched.
	sess, err := session.New(role, code)
	if err != nil {
		return err
	}
	logger = logger.WithSession(sess.ID).WithRole(role.String())

	cache, err := session.OpenCache(cfg.DataDirectory)
	if err != nil {
		return err
	}
	defer cache.Close()

	conn, err := transport.Listen(cfg.ListenPort)
	if err != nil {
		return err
	}

	if cfg.MetricsAddress != "" {
		go serveObservability(cfg.MetricsAddress, conn, cache, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutting down")
		cancel()
		conn.Close()
	}()

	if role == session.RoleHost {
		fmt.Printf("Your session code: %s\n", code)
		fmt.Println("Share it with the other user.")
		fmt.Printf("Your public IP: %s\n", detectPublicIP(ctx))
		fmt.Printf("Listening port: %d\n", conn.Port())
		fmt.Println("Waiting for guest handshake...")
	} else {
		fmt.Printf("Sending handshake to %s...\n", target)
	}

	hs := handshake.New(conn, sess, cfg, logger, metrics)
	if err := hs.Run(ctx, target); err != nil {
		conn.Close()
		if errors.Is(err, handshake.ErrHandshakeTimeout) {
			return fmt.Errorf("%w; check the code and endpoint and try again", err)
		}
		return err
	}

	fmt.Printf("Encrypted P2P chat established with %s.\n", sess.Peer())

	loop := chat.New(cfg, sess, conn, cache, logger, metrics, os.Stdin, os.Stdout)
	if err := loop.Run(ctx); err != nil {
		return err
	}
	fmt.Println("Session closed. Cache cleared.")
	return nil
}

func resolveGuestInputs(code, addr string, port int) (string, *net.UDPAddr, error) {
	var err error
	if code == "" {
		code, err = promptCode()
		if err != nil {
			return "", nil, err
		}
	}
	if err := validation.ValidateSessionCode(code); err != nil {
		return "", nil, err
	}
	if addr == "" {
		addr, err = promptLine("Enter host address: ")
		if err != nil {
			return "", nil, err
		}
	}
	if port == 0 {
		port, err = promptPort()
		if err != nil {
			return "", nil, err
		}
	}
	target, err := validation.ValidateUDPAddr(addr, port)
	if err != nil {
		return "", nil, err
	}
	return code, target, nil
}

// serveObservability exposes /metrics and /health while the session runs.
func serveObservability(addr string, conn *transport.Conn, cache *session.Cache, logger *observability.Logger) {
	health := observability.NewHealthChecker(version)
	health.RegisterCheck("udp_socket", observability.SocketCheck(func() string {
		return conn.LocalAddr().String()
	}))
	health.RegisterCheck("session_cache", observability.CacheFileCheck(cache.Path()))

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", health.Handler())

	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error(err, "observability server failed")
	}
}

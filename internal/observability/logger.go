package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stderr
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{
		logger: logger,
	}
}

// NewConsoleLogger creates a logger with human-readable output for the
// interactive CLI.
func NewConsoleLogger(service string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stderr
	}

	console := zerolog.ConsoleWriter{Out: output, TimeFormat: "15:04:05"}
	logger := zerolog.New(console).With().
		Timestamp().
		Str("service", service).
		Logger()

	return &Logger{
		logger: logger,
	}
}

// WithSession adds session_id context to logger.
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("session_id", sessionID).Logger(),
	}
}

// WithRole adds the local role (host/guest) to logger context.
func (l *Logger) WithRole(role string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("role", role).Logger(),
	}
}

// SetLevel adjusts the minimum emitted level.
func (l *Logger) SetLevel(level zerolog.Level) {
	l.logger = l.logger.Level(level)
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(err error, msg string) {
	l.logger.Fatal().Err(err).Msg(msg)
}

// HandshakeEstablished logs session establishment with the learned peer.
func (l *Logger) HandshakeEstablished(peerAddr string, attempts int, elapsed time.Duration) {
	l.logger.Info().
		Str("peer_addr", peerAddr).
		Int("attempts", attempts).
		Float64("elapsed_seconds", elapsed.Seconds()).
		Msg("handshake established")
}

// HandshakeRetry logs a handshake retransmission.
func (l *Logger) HandshakeRetry(attempt, maxAttempts int) {
	l.logger.Debug().
		Int("attempt", attempt).
		Int("max_attempts", maxAttempts).
		Msg("handshake retransmit")
}

// DatagramDiscarded logs a silently dropped inbound datagram. Open UDP
// ports receive unrelated internet noise, so this stays at debug level.
func (l *Logger) DatagramDiscarded(sourceAddr, reason string) {
	l.logger.Debug().
		Str("source_addr", sourceAddr).
		Str("reason", reason).
		Msg("datagram discarded")
}

// MessageDropped logs an undecryptable message. The session continues.
func (l *Logger) MessageDropped(sourceAddr string, size int, err error) {
	l.logger.Warn().
		Str("source_addr", sourceAddr).
		Int("size", size).
		Err(err).
		Msg("message dropped: decryption failed")
}

// PeerStale logs that no traffic has been seen within the liveness window.
func (l *Logger) PeerStale(peerAddr string, silence time.Duration) {
	l.logger.Warn().
		Str("peer_addr", peerAddr).
		Float64("silence_seconds", silence.Seconds()).
		Msg("peer unreachable: no traffic within liveness window")
}

// SessionClosed logs session teardown.
func (l *Logger) SessionClosed(sessionID string, lifetime time.Duration) {
	l.logger.Info().
		Str("session_id", sessionID).
		Float64("lifetime_seconds", lifetime.Seconds()).
		Msg("session closed")
}

// Helper function to get hostname.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}

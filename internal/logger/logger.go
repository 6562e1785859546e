// Package logger provides structured logging for the triple store.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with triple-store-specific functionality.
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// NewLogger creates a new structured logger.
func NewLogger(cfg Config) *Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	zlog := zerolog.New(output).
		With().
		Timestamp().
		Str("service", "triplestore").
		Logger()

	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// GetZerolog returns the underlying zerolog logger.
func (l *Logger) GetZerolog() *zerolog.Logger {
	return &l.zlog
}

// Info logs an info message.
func (l *Logger) Info(msg string) *zerolog.Event { return l.zlog.Info().Str("msg", msg) }

// Debug logs a debug message.
func (l *Logger) Debug(msg string) *zerolog.Event { return l.zlog.Debug().Str("msg", msg) }

// Warn logs a warning message.
func (l *Logger) Warn(msg string) *zerolog.Event { return l.zlog.Warn().Str("msg", msg) }

// Error logs an error message.
func (l *Logger) Error(msg string) *zerolog.Event { return l.zlog.Error().Str("msg", msg) }

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(msg string) *zerolog.Event { return l.zlog.Fatal().Str("msg", msg) }

// WithFields returns a logger with additional fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zlog: ctx.Logger()}
}

// DbLogger returns a logger scoped to a named database operation
// (insert, update, delete, query, commit).
func (l *Logger) DbLogger(operation string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "database").
			Str("operation", operation).
			Logger(),
	}
}

// WalLogger returns a logger scoped to WAL append/replay.
func (l *Logger) WalLogger() *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", "wal").Logger()}
}

// GcLogger returns a logger scoped to the tombstone collector.
func (l *Logger) GcLogger() *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", "gc").Logger()}
}

// CheckpointLogger returns a logger scoped to the checkpoint runner.
func (l *Logger) CheckpointLogger() *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", "checkpoint").Logger()}
}

// LogDbOperation logs a completed database operation with structured
// fields, separating out the error path the way LogGrpcRequest used to
// for gRPC methods.
func (l *Logger) LogDbOperation(operation string, duration time.Duration, recordCount int, err error) {
	event := l.zlog.Debug().
		Str("component", "database").
		Str("operation", operation).
		Dur("duration_ms", duration).
		Int("record_count", recordCount)

	if err != nil {
		event = l.zlog.Error().
			Str("component", "database").
			Str("operation", operation).
			Dur("duration_ms", duration).
			Err(err)
	}

	event.Msg("database operation completed")
}

// LogWalAppend logs one WAL append (or a failure to append).
func (l *Logger) LogWalAppend(recordType string, lsn uint64, bytes int, err error) {
	event := l.zlog.Debug().
		Str("component", "wal").
		Str("record_type", recordType).
		Uint64("lsn", lsn).
		Int("bytes", bytes)

	if err != nil {
		event = l.zlog.Error().
			Str("component", "wal").
			Str("record_type", recordType).
			Err(err)
	}

	event.Msg("wal append")
}

// LogRecovery logs the outcome of a startup recovery pass.
func (l *Logger) LogRecovery(replayed, discarded int, lastLSN uint64, duration time.Duration, err error) {
	event := l.zlog.Info().
		Str("component", "recovery").
		Int("transactions_replayed", replayed).
		Int("transactions_discarded", discarded).
		Uint64("last_lsn", lastLSN).
		Dur("duration_ms", duration)

	if err != nil {
		event = l.zlog.Error().
			Str("component", "recovery").
			Err(err)
	}

	event.Msg("recovery completed")
}

// LogCheckpoint logs the outcome of a checkpoint pass.
func (l *Logger) LogCheckpoint(newLSN uint64, duration time.Duration, err error) {
	event := l.zlog.Info().
		Str("component", "checkpoint").
		Uint64("new_checkpoint_lsn", newLSN).
		Dur("duration_ms", duration)

	if err != nil {
		event = l.zlog.Error().Str("component", "checkpoint").Err(err)
	}

	event.Msg("checkpoint completed")
}

// LogGcSweep logs the outcome of one tombstone GC pass.
func (l *Logger) LogGcSweep(considered, reclaimed, requeued int, duration time.Duration, err error) {
	event := l.zlog.Debug().
		Str("component", "gc").
		Int("considered", considered).
		Int("reclaimed", reclaimed).
		Int("requeued", requeued).
		Dur("duration_ms", duration)

	if err != nil {
		event = l.zlog.Error().Str("component", "gc").Err(err)
	}

	event.Msg("gc sweep completed")
}

// LogServerStart logs process startup.
func (l *Logger) LogServerStart(port int, dbDir string) {
	l.zlog.Info().
		Str("event", "server_start").
		Int("port", port).
		Str("db_dir", dbDir).
		Msg("triplestore server starting")
}

// LogServerReady logs when the process is ready to accept connections.
func (l *Logger) LogServerReady(port int) {
	l.zlog.Info().
		Str("event", "server_ready").
		Int("port", port).
		Msg("triplestore server ready to accept connections")
}

// LogServerShutdown logs graceful shutdown.
func (l *Logger) LogServerShutdown() {
	l.zlog.Info().Str("event", "server_shutdown").Msg("triplestore server shutting down")
}

// Global logger instance.
var globalLogger *Logger

// InitGlobalLogger initializes the global logger.
func InitGlobalLogger(cfg Config) {
	globalLogger = NewLogger(cfg)
	log.Logger = *globalLogger.GetZerolog()
}

// GetGlobalLogger returns the global logger instance, initializing it
// with defaults on first use.
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		InitGlobalLogger(Config{Level: "info", Pretty: true})
	}
	return globalLogger
}

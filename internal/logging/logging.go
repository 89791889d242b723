// Package logging provides structured logging with zap.
package logging

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *zap.Logger
	globalLevel  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string // stdout, stderr, or file path
}

// Init initializes the global logger.
func Init(cfg Config) error {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var config zap.Config
	if cfg.Format == "json" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.DisableStacktrace = true
	}

	globalLevel.SetLevel(level)
	config.Level = globalLevel
	output := cfg.OutputPath
	if output == "" {
		output = "stderr"
	}
	config.OutputPaths = []string{output}
	config.ErrorOutputPaths = []string{"stderr"}

	logger, err := config.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return err
	}

	globalLogger = logger
	return nil
}

// SetLogger replaces the global logger. Tests use it with zaptest/observer loggers.
func SetLogger(l *zap.Logger) {
	globalLogger = l
}

// Sync flushes any buffered log entries.
func Sync() error {
	if globalLogger != nil {
		return globalLogger.Sync()
	}
	return nil
}

// SetLevel changes the global log level at runtime.
func SetLevel(level string) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return
	}
	globalLevel.SetLevel(l)
}

// L returns the global logger. Before Init it is a no-op logger, so
// library use stays silent unless the program configures logging.
func L() *zap.Logger {
	if globalLogger == nil {
		return zap.NewNop()
	}
	return globalLogger
}

// Named returns a child of the global logger for a component.
func Named(component string) *zap.Logger {
	return L().Named(component)
}

// Transport logs every outgoing request with its status and duration.
// The Authorization header and request bodies are never logged.
type Transport struct {
	Next http.RoundTripper
}

// NewTransport wraps next (http.DefaultTransport when nil).
func NewTransport(next http.RoundTripper) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Transport{Next: next}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	requestID := req.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
		req = req.Clone(req.Context())
		req.Header.Set("X-Request-ID", requestID)
	}

	logger := Named("http").With(
		zap.String("request_id", requestID),
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
	)
	logger.Debug("request started")

	start := time.Now()
	resp, err := t.Next.RoundTrip(req)
	duration := time.Since(start)
	if err != nil {
		logger.Warn("request failed", zap.Duration("duration", duration), zap.Error(err))
		return nil, err
	}

	logger.Debug("request completed",
		zap.Int("status", resp.StatusCode),
		zap.Int64("size", resp.ContentLength),
		zap.Duration("duration", duration),
	)
	return resp, nil
}

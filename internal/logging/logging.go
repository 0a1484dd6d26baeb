// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package logging provides structured logging with zap.
package logging

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bodaay/GitHubFolderDownloader/pkg/ghfolder"
)

type contextKey string

const (
	loggerKey    contextKey = "logger"
	requestIDKey contextKey = "request_id"
)

var (
	mu           sync.RWMutex
	globalLogger *zap.Logger
	globalLevel  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Config holds logging configuration.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, console

	// OutputPaths are zap sinks: "stderr", "stdout" or file paths.
	// Empty means stderr.
	OutputPaths []string
}

// Init builds and installs the global logger.
func Init(cfg Config) error {
	logger, err := New(cfg)
	if err != nil {
		return err
	}
	mu.Lock()
	globalLogger = logger
	mu.Unlock()
	return nil
}

// New builds a logger without installing it.
func New(cfg Config) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}
	globalLevel.SetLevel(level)

	var config zap.Config
	if cfg.Format == "json" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		config.DisableStacktrace = true
	}
	config.Level = globalLevel
	config.OutputPaths = []string{"stderr"}
	if len(cfg.OutputPaths) > 0 {
		config.OutputPaths = cfg.OutputPaths
	}
	config.ErrorOutputPaths = []string{"stderr"}

	return config.Build(zap.AddStacktrace(zapcore.ErrorLevel))
}

// Sync flushes any buffered log entries. Errors from syncing a terminal
// are ignored.
func Sync() {
	_ = L().Sync()
}

// SetLevel changes the global log level at runtime.
func SetLevel(level string) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return
	}
	globalLevel.SetLevel(l)
}

// L returns the global logger; a no-op logger until Init is called.
func L() *zap.Logger {
	mu.RLock()
	l := globalLogger
	mu.RUnlock()
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// S returns the global sugared logger.
func S() *zap.SugaredLogger {
	return L().Sugar()
}

// WithContext returns the logger stored in ctx, or the global logger.
func WithContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return L()
}

// WithRequestID tags the context logger with a request ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	logger := WithContext(ctx).With(zap.String("request_id", requestID))
	ctx = context.WithValue(ctx, loggerKey, logger)
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID returns the request ID from context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// responseWriter wraps http.ResponseWriter to capture status and size.
type responseWriter struct {
	http.ResponseWriter
	status int
	size   int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += int64(n)
	return n, err
}

// Hijack lets websocket upgrades pass through the wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware returns HTTP middleware that adds request logging.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := WithRequestID(r.Context(), requestID)
		r = r.WithContext(ctx)
		w.Header().Set("X-Request-ID", requestID)

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		logger := WithContext(ctx)
		logger.Debug("request started",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
		)

		next.ServeHTTP(rw, r)

		logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.status),
			zap.Int64("size", rw.size),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// ProgressFunc logs download events at their level. Per-chunk progress is
// logged at debug.
func ProgressFunc(logger *zap.Logger) ghfolder.ProgressFunc {
	return func(ev ghfolder.ProgressEvent) {
		fields := []zap.Field{zap.String("event", ev.Event)}
		if ev.Repo != "" {
			fields = append(fields, zap.String("repo", ev.Repo))
		}
		if ev.Path != "" {
			fields = append(fields, zap.String("path", ev.Path))
		}
		if ev.Attempt > 0 {
			fields = append(fields, zap.Int("attempt", ev.Attempt))
		}
		if ev.Kind != "" {
			fields = append(fields, zap.String("kind", string(ev.Kind)))
		}
		if ev.Duration > 0 {
			fields = append(fields, zap.Duration("duration", ev.Duration))
		}
		if ev.Bytes > 0 {
			fields = append(fields, zap.Int64("bytes", ev.Bytes))
		}
		if ev.QuotaRemaining >= 0 && ev.Event == "quota_wait" {
			fields = append(fields, zap.Int("quota_remaining", ev.QuotaRemaining))
		}

		msg := ev.Message
		if msg == "" {
			msg = ev.Event
		}
		switch {
		case ev.Event == "file_progress" || ev.Event == "plan_item":
			logger.Debug(msg, fields...)
		case ev.Level == "error":
			logger.Error(msg, fields...)
		case ev.Level == "warn":
			logger.Warn(msg, fields...)
		default:
			logger.Info(msg, fields...)
		}
	}
}

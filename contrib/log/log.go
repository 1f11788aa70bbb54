// Package log provides the process-wide structured logger. It follows the
// teacher's "global logger + Helper + With()" shape: a package-level
// default logger can be swapped with SetLogger, and call sites either use
// the package-level Debugf/Infof/... funcs or attach request-scoped fields
// with Context(ctx).
package log

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level mirrors zapcore.Level so callers don't need to import zap directly.
type Level = zapcore.Level

const (
	LevelDebug Level = zapcore.DebugLevel
	LevelInfo  Level = zapcore.InfoLevel
	LevelWarn  Level = zapcore.WarnLevel
	LevelError Level = zapcore.ErrorLevel
)

// DefaultMessageKey is the structured-log key under which Helper's
// printf-style and print-style methods log the human message.
const DefaultMessageKey = "msg"

// Logger is the minimal logging surface the rest of the module depends on.
type Logger interface {
	Log(level Level, keyvals ...any)
}

// zapLogger adapts a *zap.SugaredLogger to the Logger interface.
type zapLogger struct {
	s *zap.SugaredLogger
}

func (z *zapLogger) Log(level Level, keyvals ...any) {
	switch level {
	case LevelDebug:
		z.s.Debugw("", keyvals...)
	case LevelWarn:
		z.s.Warnw("", keyvals...)
	case LevelError:
		z.s.Errorw("", keyvals...)
	default:
		z.s.Infow("", keyvals...)
	}
}

var defaultLogger Logger = newStderrLogger()

func newStderrLogger() Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.AddSync(os.Stderr), zapcore.DebugLevel)
	return &zapLogger{s: zap.New(core).Sugar()}
}

// NewFileLogger builds a Logger that writes rotated JSON lines through
// lumberjack, grounded on server/mod/accesslog.go's use of the same pair.
func NewFileLogger(path string, level Level, maxSizeMB, maxBackups, maxAgeDays int, compress bool) Logger {
	if path == "" {
		return newStderrLogger()
	}

	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   compress,
		LocalTime:  true,
	}

	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.AddSync(w), level)
	return &zapLogger{s: zap.New(core).Sugar()}
}

// SetLogger replaces the process-wide default logger.
func SetLogger(l Logger) {
	defaultLogger = l
}

// GetLogger returns the process-wide default logger.
func GetLogger() Logger {
	return defaultLogger
}

// Enabled reports whether the default logger would emit at level.
// Only meaningful for the zap-backed logger; other implementations
// always report true.
func Enabled(level Level) bool {
	if zl, ok := defaultLogger.(*zapLogger); ok {
		return zl.s.Desugar().Core().Enabled(level)
	}
	return true
}

// filteredLogger wraps a base Logger, appending a fixed set of key-value
// pairs to every call — the With() idiom used across the teacher's
// middleware chain (e.g. per-process "pid"/"ts" fields attached in main).
type filteredLogger struct {
	base Logger
	kv   []any
}

func (f *filteredLogger) Log(level Level, keyvals ...any) {
	f.base.Log(level, append(append([]any{}, f.kv...), keyvals...)...)
}

// With returns a Logger that always logs the given keyvals in addition to
// whatever is passed at the call site.
func With(l Logger, keyvals ...any) Logger {
	return &filteredLogger{base: l, kv: keyvals}
}

// Timestamp returns a value, suitable for use with With, that evaluates to
// the current time formatted with layout at each log call.
func Timestamp(layout string) any {
	return timestampValuer(layout)
}

type timestampValuer string

// String lets fmt (and the sugared logger's %v handling) render this as
// the current time, so `With(l, "ts", Timestamp(time.RFC3339))` refreshes
// every call instead of capturing the time With was invoked at.
func (t timestampValuer) String() string {
	return time.Now().Format(string(t))
}

// Helper is a convenience wrapper exposing printf-style methods over a
// Logger, in the same spirit as the teacher's log.Helper.
type Helper struct {
	logger Logger
}

func NewHelper(l Logger) *Helper {
	return &Helper{logger: l}
}

func (h *Helper) Debugf(format string, args ...any) { h.logger.Log(LevelDebug, "msg", fmt.Sprintf(format, args...)) }
func (h *Helper) Infof(format string, args ...any)  { h.logger.Log(LevelInfo, "msg", fmt.Sprintf(format, args...)) }
func (h *Helper) Warnf(format string, args ...any)  { h.logger.Log(LevelWarn, "msg", fmt.Sprintf(format, args...)) }
func (h *Helper) Errorf(format string, args ...any) { h.logger.Log(LevelError, "msg", fmt.Sprintf(format, args...)) }
func (h *Helper) Debug(args ...any)                 { h.logger.Log(LevelDebug, "msg", fmt.Sprint(args...)) }
func (h *Helper) Info(args ...any)                  { h.logger.Log(LevelInfo, "msg", fmt.Sprint(args...)) }
func (h *Helper) Warn(args ...any)                  { h.logger.Log(LevelWarn, "msg", fmt.Sprint(args...)) }
func (h *Helper) Error(args ...any)                 { h.logger.Log(LevelError, "msg", fmt.Sprint(args...)) }
func (h *Helper) Errorw(keyvals ...any)              { h.logger.Log(LevelError, keyvals...) }

type requestLoggerKey struct{}

// WithContext attaches a *Helper to ctx, to be retrieved later with Context.
func WithContext(ctx context.Context, h *Helper) context.Context {
	return context.WithValue(ctx, requestLoggerKey{}, h)
}

// Context returns the *Helper attached to ctx, or a Helper over the
// default logger if none was attached.
func Context(ctx context.Context) *Helper {
	if h, ok := ctx.Value(requestLoggerKey{}).(*Helper); ok {
		return h
	}
	return NewHelper(defaultLogger)
}

// Package-level convenience funcs delegate to the default logger.
func Debugf(format string, args ...any) { NewHelper(defaultLogger).Debugf(format, args...) }
func Infof(format string, args ...any)  { NewHelper(defaultLogger).Infof(format, args...) }
func Warnf(format string, args ...any)  { NewHelper(defaultLogger).Warnf(format, args...) }
func Errorf(format string, args ...any) { NewHelper(defaultLogger).Errorf(format, args...) }
func Debug(args ...any)                 { NewHelper(defaultLogger).Debug(args...) }
func Info(args ...any)                  { NewHelper(defaultLogger).Info(args...) }
func Warn(args ...any)                  { NewHelper(defaultLogger).Warn(args...) }
func Error(args ...any)                 { NewHelper(defaultLogger).Error(args...) }
func Errorw(keyvals ...any)              { NewHelper(defaultLogger).Errorw(keyvals...) }

func Fatal(args ...any) {
	NewHelper(defaultLogger).Error(args...)
	os.Exit(1)
}

func Fatalf(format string, args ...any) {
	NewHelper(defaultLogger).Errorf(format, args...)
	os.Exit(1)
}

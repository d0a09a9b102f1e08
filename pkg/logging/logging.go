// Package logging provides the structured logger used by the Server Engine
// (and the demo server binary) for operational output, grounded on the zap usage in
// packetd's logger package: a SugaredLogger behind a small Debugf/Infof/
// Warnf/Errorf surface rather than the full zap API.
package logging

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level names the minimum severity a Logger emits.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func toZapLevel(l Level) zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger is a thin wrapper over a zap SugaredLogger.
type Logger struct {
	sugared *zap.SugaredLogger
}

// Debugf logs at debug level.
func (l Logger) Debugf(template string, args ...any) { l.sugared.Debugf(template, args...) }

// Infof logs at info level.
func (l Logger) Infof(template string, args ...any) { l.sugared.Infof(template, args...) }

// Warnf logs at warn level.
func (l Logger) Warnf(template string, args ...any) { l.sugared.Warnf(template, args...) }

// Errorf logs at error level.
func (l Logger) Errorf(template string, args ...any) { l.sugared.Errorf(template, args...) }

// With returns a Logger with the given key/value pairs attached to every
// subsequent line, for per-connection or per-request context.
func (l Logger) With(keysAndValues ...any) Logger {
	return Logger{sugared: l.sugared.With(keysAndValues...)}
}

// New builds a Logger writing to stdout at the given minimum level. The
// engine has no persisted configuration or log rotation to manage (spec.md
// carries no file-based config surface), so unlike packetd's logger.New
// this never touches the filesystem.
func New(level Level) Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format("2006-01-02T15:04:05.000Z"))
	}
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewConsoleEncoder(encoderConfig)

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), toZapLevel(level))
	logger := zap.New(core)
	return Logger{sugared: logger.Sugar()}
}

// Nop returns a Logger that discards everything, for tests and library
// callers that don't want engine logs on stdout.
func Nop() Logger {
	return Logger{sugared: zap.NewNop().Sugar()}
}

// IsZero reports whether l is the unconfigured zero value, so callers that
// accept a Logger in their Options can default it to Nop().
func (l Logger) IsZero() bool { return l.sugared == nil }

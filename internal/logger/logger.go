package logger

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.SugaredLogger
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

func init() {
	cfg := zap.Config{
		Level:             level,
		Encoding:          "console",
		EncoderConfig:     zap.NewDevelopmentEncoderConfig(),
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}

	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	logger = l.Sugar()
}

// L returns the process-wide sugared logger.
func L() *zap.SugaredLogger {
	if logger == nil {
		panic("logger is not initialized")
	}
	return logger
}

// Replace swaps the process-wide logger. Tests use it with zaptest/observer.
func Replace(l *zap.Logger) {
	logger = l.Sugar()
}

func Close() {
	if err := L().Sync(); err != nil {
		L().Debug(errors.WithMessage(err, "failed to sync logger"))
	}
}

func SetLogLevel(l zapcore.Level) {
	level.SetLevel(l)
}

// ParseLevel accepts the zap level names (debug, info, warn, error, ...).
func ParseLevel(s string) (zapcore.Level, error) {
	var l zapcore.Level
	if err := l.Set(s); err != nil {
		return l, errors.Wrapf(err, "invalid log level %q", s)
	}
	return l, nil
}

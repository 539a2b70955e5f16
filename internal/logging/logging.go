// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/roach88/orgsync/internal/config"
)

// New returns a JSON logger writing to a rotated file when cfg.File is set,
// and a console logger on stderr otherwise. The returned close function
// flushes and releases the file.
func New(cfg config.LogConfig) (*zap.Logger, func() error, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}

	if cfg.File == "" {
		return build(zapcore.NewConsoleEncoder(encoderConfig()), zapcore.Lock(os.Stderr), level, nil)
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	return build(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(rotator), level, rotator)
}

// NewWriter returns a JSON logger on w. Tests use it to capture output.
func NewWriter(w io.Writer, level zapcore.Level) *zap.Logger {
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(w), level)
	return zap.New(core)
}

func build(enc zapcore.Encoder, ws zapcore.WriteSyncer, level zapcore.Level, c io.Closer) (*zap.Logger, func() error, error) {
	logger := zap.New(zapcore.NewCore(enc, ws, level), zap.AddCaller())
	closeFn := func() error {
		_ = logger.Sync()
		if c != nil {
			return c.Close()
		}
		return nil
	}
	return logger, closeFn, nil
}

func encoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "time"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeDuration = zapcore.StringDurationEncoder
	return ec
}

package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"quest_tally/pkg/config"
)

// ErrNoLogOutput is returned when neither a log file nor the console is enabled
var ErrNoLogOutput = errors.New("no log output configured")

// NewLogger builds the application logger from the log section. Entries go
// to a rotating JSON file and, with Console set, to stderr as well. level is
// shared with the returned logger so it can be changed while running.
func NewLogger(cfg config.LogConfig, level zap.AtomicLevel, development bool) (*zap.Logger, error) {
	var cores []zapcore.Core

	if cfg.OutputPath != "" {
		rotator, err := rotatingWriter(cfg)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoding()), rotator, level))
	}

	if cfg.Console {
		enc := fileEncoding()
		enc.EncodeLevel = zapcore.CapitalLevelEncoder
		enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stderr), level))
	}

	if len(cores) == 0 {
		return nil, ErrNoLogOutput
	}

	options := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if development {
		options = append(options, zap.Development())
	}
	return zap.New(zapcore.NewTee(cores...), options...), nil
}

func rotatingWriter(cfg config.LogConfig) (zapcore.WriteSyncer, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.OutputPath,
		MaxSize:    cfg.MaxSizeMB,
		MaxAge:     cfg.MaxAgeDays,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}), nil
}

func fileEncoding() zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.StringDurationEncoder
	return enc
}

// LoggerWithContext creates a child logger with context fields
func LoggerWithContext(parent *zap.Logger, fields ...zapcore.Field) *zap.Logger {
	return parent.With(fields...)
}

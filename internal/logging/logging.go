// Package logging builds the zap logger shared by the CLI and the scheduler.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects encoder, level and an optional rotating log file.
type Config struct {
	Mode  string // development or production
	Level string
	File  string
}

// New creates a logger writing to stderr and, when File is set, to a
// rotating file.
func New(cfg Config) (*zap.Logger, error) {
	var encCfg zapcore.EncoderConfig
	var newEncoder func(zapcore.EncoderConfig) zapcore.Encoder

	switch cfg.Mode {
	case "development", "":
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		newEncoder = zapcore.NewConsoleEncoder
	case "production":
		encCfg = zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "timestamp"
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		newEncoder = zapcore.NewJSONEncoder
	default:
		return nil, fmt.Errorf("invalid logging mode: %s, must be 'production' or 'development'", cfg.Mode)
	}

	level := zapcore.InfoLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid logging level: %s", cfg.Level)
		}
		level = parsed
	}

	cores := []zapcore.Core{
		zapcore.NewCore(newEncoder(encCfg), zapcore.Lock(os.Stderr), level),
	}
	if cfg.File != "" {
		fileEnc := zap.NewProductionEncoderConfig()
		fileEnc.TimeKey = "timestamp"
		fileEnc.EncodeTime = zapcore.ISO8601TimeEncoder
		sink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    20,
			MaxBackups: 5,
			MaxAge:     14,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileEnc), sink, level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

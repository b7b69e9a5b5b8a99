package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Sampling keeps a chatty status stream from flooding kiosk storage.
const (
	sampleFirst      = 100
	sampleThereafter = 100
)

// NewLogger builds the process logger and names it. LOG_LEVEL picks the level
// (info when unset or unknown); LOG_FORMAT=console gives readable lines on a
// terminal attached to the pump.
func NewLogger(name string) (*zap.Logger, error) {
	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(levelFromEnv()),
		Sampling:         &zap.SamplingConfig{Initial: sampleFirst, Thereafter: sampleThereafter},
		Encoding:         encodingFromEnv(),
		EncoderConfig:    encoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build %s logger: %w", cfg.Encoding, err)
	}
	if name == "" {
		return logger, nil
	}
	return logger.Named(name), nil
}

func levelFromEnv() zapcore.Level {
	level := zapcore.InfoLevel
	if raw := strings.TrimSpace(os.Getenv("LOG_LEVEL")); raw != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(raw))); err != nil {
			return zapcore.InfoLevel
		}
	}
	return level
}

func encodingFromEnv() string {
	if strings.EqualFold(strings.TrimSpace(os.Getenv("LOG_FORMAT")), "console") {
		return "console"
	}
	return "json"
}

func encoderConfig() zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.StacktraceKey = "stack"
	enc.EncodeTime = utcTimeEncoder
	enc.EncodeDuration = zapcore.StringDurationEncoder
	return enc
}

func utcTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format(time.RFC3339Nano))
}

package logger

import (
	"go.uber.org/zap"
)

// New builds the process logger. encoding is "console" for human-readable
// diagnostics on stderr or "json" for structured output; empty means console.
func New(verbosity, encoding string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(verbosity)
	if err != nil {
		return nil, err
	}
	config.Level = level
	if encoding == "" {
		encoding = "console"
	}
	config.Encoding = encoding
	if encoding == "console" {
		config.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		config.Sampling = nil
	}
	return config.Build()
}

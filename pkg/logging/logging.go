// Package logging builds the service logger.
package logging

import (
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the service logger backed by zap. The returned *zap.Logger is
// for flushing on shutdown; everything else uses the ectologger.Logger.
func New(appName string, level string, pretty bool) (ectologger.Logger, *zap.Logger, error) {
	var zapLogger *zap.Logger
	var err error

	if pretty {
		zapLogger, err = zap.NewDevelopment()
	} else {
		cfg := zap.NewProductionConfig()
		parsed, perr := zapcore.ParseLevel(level)
		if perr != nil {
			parsed = zapcore.InfoLevel
		}
		cfg.Level = zap.NewAtomicLevelAt(parsed)
		zapLogger, err = cfg.Build()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}

	zapLogger = zapLogger.Named(appName)
	return zapadapter.NewZapEctoLogger(zapLogger, nil), zapLogger, nil
}

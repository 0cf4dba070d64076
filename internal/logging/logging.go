package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/efojunior25/payment-system/internal/config"
)

// New builds a logger from cfg. Level names follow zapcore: debug, info,
// warn, error, dpanic, panic, fatal.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level.SetLevel(level)

	return zc.Build(zap.AddStacktrace(zap.ErrorLevel))
}

// Setup builds the logger, installs it as the zap global and redirects the
// standard library logger to it. The returned func flushes buffered entries.
func Setup(cfg config.LogConfig) (func() error, error) {
	l, err := New(cfg)
	if err != nil {
		return nil, err
	}

	zap.ReplaceGlobals(l)
	zap.RedirectStdLog(l.Named("stdlog"))

	return l.Sync, nil
}

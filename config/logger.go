package config

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/fmt-bridge/errors"
)

// LevelOff disables logging.
const LevelOff = "off"

// NewLogger builds a zap logger writing to stderr. Stdout is left to the
// formatted output.
func NewLogger(l Log) (*zap.Logger, error) {
	if strings.EqualFold(strings.TrimSpace(l.Level), LevelOff) {
		return zap.NewNop(), nil
	}
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log.level")
	}

	var zc zap.Config
	if l.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	zc.DisableStacktrace = true

	return zc.Build()
}

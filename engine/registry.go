package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	fmtbridge "github.com/wippyai/fmt-bridge"
	"github.com/wippyai/fmt-bridge/config"
	"github.com/wippyai/fmt-bridge/engine/builtin"
	"github.com/wippyai/fmt-bridge/engine/command"
	"github.com/wippyai/fmt-bridge/engine/lua"
	"github.com/wippyai/fmt-bridge/engine/wasm"
	"github.com/wippyai/fmt-bridge/errors"
)

// Engine is a formatter with a lifecycle.
type Engine interface {
	fmtbridge.Formatter
	Name() string
	Close(ctx context.Context) error
}

var (
	_ Engine = (*builtin.Engine)(nil)
	_ Engine = (*command.Engine)(nil)
	_ Engine = (*lua.Engine)(nil)
	_ Engine = (*wasm.Engine)(nil)
)

// Open creates the engine cfg selects. A positive cfg.Timeout bounds every
// Format call.
func Open(ctx context.Context, cfg config.Engine, logger *zap.Logger) (Engine, error) {
	if logger == nil {
		logger = fmtbridge.Logger()
	}
	logger = logger.With(zap.String("engine", cfg.Kind))

	var (
		e   Engine
		err error
	)
	switch cfg.Kind {
	case "", config.KindBuiltin:
		e = builtin.New(builtin.Config{
			NFC:           cfg.Builtin.NFC,
			TabWidth:      cfg.Builtin.TabWidth,
			MaxBlankLines: cfg.Builtin.MaxBlankLines,
		})
	case config.KindWASM:
		e, err = wasm.Load(ctx, wasm.Config{
			Logger:           logger,
			Path:             cfg.Path,
			MemoryLimitPages: cfg.MemoryLimitPages,
			PoolSize:         cfg.PoolSize,
			EnableWASI:       cfg.WASI,
		})
	case config.KindLua:
		e, err = lua.New(ctx, lua.Config{
			Logger:   logger,
			Path:     cfg.Path,
			Function: cfg.Function,
			PoolSize: cfg.PoolSize,
		})
	case config.KindCommand:
		e, err = command.New(command.Config{
			Logger: logger,
			Path:   cfg.Path,
			Args:   cfg.Args,
			Dir:    cfg.Dir,
			Env:    cfg.Env,
		})
	default:
		return nil, errors.Unsupported(errors.PhaseLoad, "engine kind "+cfg.Kind)
	}
	if err != nil {
		return nil, err
	}

	logger.Debug("engine opened", zap.String("path", cfg.Path))
	if cfg.Timeout > 0 {
		return &timeoutEngine{Engine: e, timeout: cfg.Timeout}, nil
	}
	return e, nil
}

// timeoutEngine bounds each call with a deadline.
type timeoutEngine struct {
	Engine
	timeout time.Duration
}

func (t *timeoutEngine) Format(ctx context.Context, source string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Engine.Format(ctx, source)
}

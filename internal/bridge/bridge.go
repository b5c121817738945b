// Package bridge holds the state behind the exported C functions: the active
// marshaller, its engine, and the swap performed on reconfiguration.
//
// A call pins the binding it started with, so a concurrent Configure never
// closes an engine that is still formatting. The previous engine is closed
// exactly once, by whichever of Configure or the last pinned call finishes
// later.
package bridge

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	fmtbridge "github.com/wippyai/fmt-bridge"
	"github.com/wippyai/fmt-bridge/boundary"
	"github.com/wippyai/fmt-bridge/config"
	"github.com/wippyai/fmt-bridge/engine"
)

// OpenFunc creates the engine for a configuration.
type OpenFunc func(ctx context.Context, cfg config.Engine, logger *zap.Logger) (engine.Engine, error)

// Defaults is the configuration a library starts with. Logging is off until
// a config file sets [log], so a host process sees no output it did not ask for.
func Defaults() config.Config {
	cfg := config.Default()
	cfg.Log.Level = config.LevelOff
	return cfg
}

// Bridge serves format calls over one memory and allocator pair.
type Bridge struct {
	mem    fmtbridge.Memory
	alloc  fmtbridge.Allocator
	open   OpenFunc
	active atomic.Pointer[binding]
}

// binding is one configured marshaller and the engine behind it.
type binding struct {
	m      *boundary.Marshaller
	engine engine.Engine
	logger *zap.Logger

	refs    atomic.Int64
	retired atomic.Bool
	once    sync.Once
}

// New creates a bridge configured with Defaults. A nil open uses engine.Open.
func New(ctx context.Context, mem fmtbridge.Memory, alloc fmtbridge.Allocator, open OpenFunc) (*Bridge, error) {
	if open == nil {
		open = engine.Open
	}
	b := &Bridge{mem: mem, alloc: alloc, open: open}
	next, err := b.bind(ctx, Defaults())
	if err != nil {
		return nil, err
	}
	fmtbridge.SetLogger(next.logger)
	b.active.Store(next)
	return b, nil
}

func (b *Bridge) bind(ctx context.Context, cfg config.Config) (*binding, error) {
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	e, err := b.open(ctx, cfg.Engine, logger)
	if err != nil {
		return nil, err
	}
	m := boundary.New(b.mem, b.alloc, e,
		boundary.WithLogger(logger),
		boundary.WithMaxInputBytes(cfg.Boundary.MaxInputBytes),
	)
	return &binding{m: m, engine: e, logger: logger}, nil
}

// acquire pins the active binding for one call.
func (b *Bridge) acquire() *binding {
	for {
		cur := b.active.Load()
		cur.refs.Add(1)
		if b.active.Load() == cur {
			return cur
		}
		cur.release()
	}
}

func (c *binding) release() {
	if c.refs.Add(-1) == 0 && c.retired.Load() {
		c.close()
	}
}

// retire closes the binding once the last pinned call returns.
func (c *binding) retire() {
	c.retired.Store(true)
	if c.refs.Load() == 0 {
		c.close()
	}
}

func (c *binding) close() {
	c.once.Do(func() {
		if err := c.engine.Close(context.Background()); err != nil {
			c.logger.Warn("close engine", zap.Error(err))
		}
		_ = c.logger.Sync()
	})
}

// Format formats the string at src. See boundary.Marshaller.Format.
func (b *Bridge) Format(ctx context.Context, src fmtbridge.Ptr) fmtbridge.Ptr {
	c := b.acquire()
	defer c.release()
	return c.m.Format(ctx, src)
}

// FormatDetailed formats the string at src and reports a diagnostic on
// failure, see boundary.Marshaller.FormatDetailed. When wantDiag is false
// the diagnostic is released here and diag is Null.
func (b *Bridge) FormatDetailed(ctx context.Context, src fmtbridge.Ptr, wantDiag bool) (out, diag fmtbridge.Ptr) {
	c := b.acquire()
	defer c.release()

	out, diag = c.m.FormatDetailed(ctx, src)
	if !wantDiag {
		b.Free(diag)
		diag = fmtbridge.Null
	}
	return out, diag
}

// Free releases a string returned by Format or FormatDetailed.
func (b *Bridge) Free(ptr fmtbridge.Ptr) {
	if ptr == fmtbridge.Null {
		return
	}
	b.alloc.Free(ptr)
}

// Configure loads the config file at path over Defaults and swaps in its
// engine. An empty path restores Defaults. On error the active engine is
// left in place.
func (b *Bridge) Configure(ctx context.Context, path string) error {
	cfg := Defaults()
	if path != "" {
		var err error
		if cfg, err = config.LoadOver(Defaults(), path); err != nil {
			b.active.Load().logger.Error("load config", zap.Error(err))
			return err
		}
	}

	next, err := b.bind(ctx, cfg)
	if err != nil {
		b.active.Load().logger.Error("open engine", zap.Error(err))
		return err
	}
	fmtbridge.SetLogger(next.logger)
	prev := b.active.Swap(next)
	prev.retire()
	next.logger.Info("engine configured", zap.String("engine", next.engine.Name()))
	return nil
}

// Engine returns the name of the active engine.
func (b *Bridge) Engine() string {
	return b.active.Load().engine.Name()
}

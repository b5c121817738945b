// Package wasm runs a formatter compiled to WebAssembly.
//
// The guest exports the same C ABI this library exposes to native callers,
// plus an allocator:
//
//	(func (export "format") (param i32) (result i32))
//	(func (export "free_string") (param i32))
//	(func (export "malloc") (param i32) (result i32))
//	(func (export "free") (param i32))
//	(memory (export "memory") 1)
//
// For each call the host plays the caller's side of the boundary: it copies
// the source into guest memory with the guest's allocator, calls format,
// copies the result out, releases it with free_string and releases the input
// with the guest's deallocator. Allocation and release always happen on the
// same side.
//
// Instances are not thread-safe; the engine keeps a bounded pool of them and
// discards any instance whose guest trapped.
package wasm

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	fmtbridge "github.com/wippyai/fmt-bridge"
	"github.com/wippyai/fmt-bridge/boundary"
	"github.com/wippyai/fmt-bridge/errors"
	"github.com/wippyai/fmt-bridge/internal/pool"
)

// Name identifies the engine in configuration and logs.
const Name = "wasm"

// Config holds configuration for a WebAssembly engine
type Config struct {
	Logger *zap.Logger

	// Path is read when New is given no module bytes.
	Path string

	// Export names. Empty values use the defaults or autodetection.
	FormatExport     string
	FreeStringExport string
	AllocExport      string
	FreeExport       string

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32

	// PoolSize bounds the number of live instances. 0 means NumCPU.
	PoolSize int

	// MaxOutputBytes bounds the formatted text read back from the guest.
	// 0 means no bound beyond the guest's memory.
	MaxOutputBytes uint32

	// EnableWASI instantiates wasi_snapshot_preview1 for guests that import it.
	EnableWASI bool
}

// Engine formats source by calling into WebAssembly instances.
type Engine struct {
	runtime   wazero.Runtime
	compiled  wazero.CompiledModule
	instances *pool.Pool[*instance]
	logger    *zap.Logger
	exports   exportSet
	outLimit  uint32
}

// Load reads the module at cfg.Path and creates an engine.
func Load(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.Path == "" {
		return nil, errors.InvalidInput(errors.PhaseLoad, "wasm engine needs a module path")
	}
	wasmBytes, err := os.ReadFile(cfg.Path)
	if err != nil {
		return nil, errors.Load("read module", err)
	}
	return New(ctx, wasmBytes, cfg)
}

// New compiles wasmBytes and checks that it exports the formatter ABI.
func New(ctx context.Context, wasmBytes []byte, cfg Config) (*Engine, error) {
	runtimeCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	e, err := newEngine(ctx, r, wasmBytes, cfg)
	if err != nil {
		_ = r.Close(ctx)
		return nil, err
	}
	return e, nil
}

func newEngine(ctx context.Context, r wazero.Runtime, wasmBytes []byte, cfg Config) (*Engine, error) {
	if cfg.EnableWASI {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
			return nil, errors.Wrap(errors.PhaseLoad, errors.KindInstantiation, err, "instantiate WASI")
		}
	}

	compiled, err := r.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.Load("compile module", err)
	}

	exports, err := resolveExports(compiled, cfg)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		runtime:  r,
		compiled: compiled,
		logger:   cfg.Logger,
		exports:  exports,
		outLimit: cfg.MaxOutputBytes,
	}
	if e.logger == nil {
		e.logger = fmtbridge.Logger()
	}
	if e.outLimit == 0 {
		e.outLimit = boundary.NoLimit
	}

	size := cfg.PoolSize
	if size <= 0 {
		size = runtime.NumCPU()
	}
	e.instances = pool.New(size, e.instantiate, func(ctx context.Context, inst *instance) error {
		return inst.close(ctx)
	})

	// Instantiate once up front so link errors surface at load time.
	inst, err := e.instances.Get(ctx)
	if err != nil {
		return nil, err
	}
	e.instances.Put(ctx, inst)

	e.logger.Debug("wasm formatter loaded",
		zap.String("format", exports.format),
		zap.String("alloc", exports.alloc),
		zap.String("free", exports.free),
		zap.Int("pool", size))
	return e, nil
}

func (e *Engine) instantiate(ctx context.Context) (*instance, error) {
	modCfg := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions("_initialize")
	mod, err := e.runtime.InstantiateModule(ctx, e.compiled, modCfg)
	if err != nil {
		return nil, errors.Instantiation(err)
	}
	if mod.Memory() == nil {
		_ = mod.Close(ctx)
		return nil, errors.NotFound(errors.PhaseLoad, "memory", "memory")
	}

	inst := &instance{
		mod:          mod,
		mem:          &guestMemory{mem: mod.Memory()},
		formatFn:     mod.ExportedFunction(e.exports.format),
		freeStringFn: mod.ExportedFunction(e.exports.freeString),
		alloc: &guestAllocator{
			allocFn:   mod.ExportedFunction(e.exports.alloc),
			realloc:   e.exports.realloc,
			freeArity: e.exports.freeArity,
			sizes:     make(map[fmtbridge.Ptr]uint32),
			logger:    e.logger,
			stackBuf:  make([]uint64, 4),
		},
		formatName: e.exports.format,
		outLimit:   e.outLimit,
		logger:     e.logger,
	}
	if e.exports.free != "" {
		inst.alloc.freeFn = mod.ExportedFunction(e.exports.free)
	}
	return inst, nil
}

func (e *Engine) Name() string { return Name }

// Format runs the guest formatter on source.
func (e *Engine) Format(ctx context.Context, source string) (string, error) {
	inst, err := e.instances.Get(ctx)
	if err != nil {
		return "", errors.EngineFailed(Name, err)
	}

	out, err := inst.format(ctx, source)
	if inst.alloc.broken {
		e.logger.Debug("discarding wasm instance", zap.Error(err))
		e.instances.Discard(ctx, inst)
	} else {
		e.instances.Put(ctx, inst)
	}
	return out, err
}

// Close closes all instances and the runtime.
func (e *Engine) Close(ctx context.Context) error {
	poolErr := e.instances.Close(ctx)
	if err := e.runtime.Close(ctx); err != nil {
		return err
	}
	return poolErr
}

// instance is one guest module instance. It is used by one goroutine at a time.
type instance struct {
	mod          api.Module
	mem          *guestMemory
	alloc        *guestAllocator
	formatFn     api.Function
	freeStringFn api.Function
	logger       *zap.Logger
	formatName   string
	outLimit     uint32
}

func (i *instance) format(ctx context.Context, source string) (string, error) {
	i.alloc.setContext(ctx)
	defer i.alloc.setContext(nil)

	in, err := boundary.EncodeCString(i.mem, i.alloc, source)
	if err != nil {
		if i.alloc.broken {
			return "", errors.Trap(Name, err)
		}
		return "", errors.EngineFailed(Name, err)
	}
	defer i.alloc.Free(in)

	res, err := i.formatFn.Call(ctx, uint64(in))
	if err != nil {
		i.alloc.broken = true
		return "", errors.Trap(Name, err)
	}

	out := fmtbridge.Ptr(uint32(res[0]))
	if out == fmtbridge.Null {
		return "", errors.EngineFailed(Name, fmt.Errorf("%s returned null", i.formatName))
	}
	defer i.freeString(ctx, out)

	text, err := boundary.DecodeCString(i.mem, out, i.outLimit)
	if err != nil {
		return "", errors.EngineFailed(Name, err)
	}
	return text, nil
}

func (i *instance) freeString(ctx context.Context, ptr fmtbridge.Ptr) {
	if i.alloc.broken {
		return
	}
	if _, err := i.freeStringFn.Call(ctx, uint64(ptr)); err != nil {
		i.alloc.broken = true
		i.logger.Warn("guest free_string failed", zap.Uint64("ptr", uint64(ptr)), zap.Error(err))
	}
}

func (i *instance) close(ctx context.Context) error {
	return i.mod.Close(ctx)
}

// Package lua runs a formatter written in Lua.
//
// The script defines a global function (format by default) that receives the
// source text and returns the formatted text, or nil and an error message:
//
//	function format(src)
//	  if src:find("^!") then return nil, "bad input" end
//	  return (src:gsub("%s+\n", "\n"))
//	end
//
// Scripts run in a sandbox with only the base, table, string and math
// libraries and without dofile, loadfile, load or loadstring.
//
// gopher-lua states are not goroutine-safe, so the engine keeps a pool of
// states, each with the script loaded once.
package lua

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	fmtbridge "github.com/wippyai/fmt-bridge"
	"github.com/wippyai/fmt-bridge/errors"
	"github.com/wippyai/fmt-bridge/internal/pool"
)

// Name identifies the engine in configuration and logs.
const Name = "lua"

// DefaultFunction is the global the script must define.
const DefaultFunction = "format"

// Config holds configuration for a Lua engine.
type Config struct {
	// Logger receives script errors. Defaults to the package logger.
	Logger *zap.Logger
	// Path is the script file. Ignored when Source is set.
	Path string
	// Source is inline script text.
	Source string
	// Function names the global entry point. Defaults to DefaultFunction.
	Function string
	// PoolSize bounds the number of concurrent states. 0 means NumCPU.
	PoolSize int
}

// Engine formats source with a Lua script.
type Engine struct {
	states   *pool.Pool[*lua.LState]
	logger   *zap.Logger
	function string
}

// New compiles the script and verifies that it defines the entry point.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	source := cfg.Source
	chunkName := "<inline>"
	if source == "" {
		if cfg.Path == "" {
			return nil, errors.InvalidInput(errors.PhaseLoad, "lua engine needs a script path or source")
		}
		data, err := os.ReadFile(cfg.Path)
		if err != nil {
			return nil, errors.Load("read script", err)
		}
		source = string(data)
		chunkName = cfg.Path
	}

	e := &Engine{
		logger:   cfg.Logger,
		function: cfg.Function,
	}
	if e.logger == nil {
		e.logger = fmtbridge.Logger()
	}
	if e.function == "" {
		e.function = DefaultFunction
	}

	size := cfg.PoolSize
	if size <= 0 {
		size = runtime.NumCPU()
	}
	e.states = pool.New(size, func(context.Context) (*lua.LState, error) {
		return e.newState(source, chunkName)
	}, func(_ context.Context, L *lua.LState) error {
		L.Close()
		return nil
	})

	// Load one state eagerly so a broken script fails at startup.
	L, err := e.states.Get(ctx)
	if err != nil {
		return nil, err
	}
	e.states.Put(ctx, L)
	return e, nil
}

func (e *Engine) newState(source, chunkName string) (*lua.LState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(L, e.logger)

	fn, err := L.Load(strings.NewReader(source), chunkName)
	if err != nil {
		L.Close()
		return nil, errors.Load("compile script", err)
	}
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		L.Close()
		return nil, errors.Load("run script", err)
	}
	if L.GetGlobal(e.function).Type() != lua.LTFunction {
		L.Close()
		return nil, errors.NotFound(errors.PhaseLoad, "lua function", e.function)
	}
	return L, nil
}

func (e *Engine) Name() string { return Name }

// Format calls the script's entry point with source.
func (e *Engine) Format(ctx context.Context, source string) (string, error) {
	L, err := e.states.Get(ctx)
	if err != nil {
		return "", errors.EngineFailed(Name, err)
	}

	out, err := e.call(ctx, L, source)
	if err != nil {
		if ctx.Err() != nil {
			// Cancellation can stop the state mid-execution; do not reuse it.
			e.states.Discard(ctx, L)
		} else {
			e.states.Put(ctx, L)
		}
		e.logger.Debug("lua format failed", zap.Error(err))
		return "", errors.EngineFailed(Name, err)
	}
	e.states.Put(ctx, L)
	return out, nil
}

func (e *Engine) call(ctx context.Context, L *lua.LState, source string) (string, error) {
	L.SetContext(ctx)
	defer L.RemoveContext()

	top := L.GetTop()
	defer L.SetTop(top)

	err := L.CallByParam(lua.P{
		Fn:      L.GetGlobal(e.function),
		NRet:    2,
		Protect: true,
	}, lua.LString(source))
	if err != nil {
		return "", err
	}

	result, msg := L.Get(-2), L.Get(-1)
	switch v := result.(type) {
	case lua.LString:
		return string(v), nil
	case *lua.LNilType:
		if msg != lua.LNil {
			return "", fmt.Errorf("%s", lua.LVAsString(msg))
		}
		return "", fmt.Errorf("%s returned nil", e.function)
	default:
		return "", fmt.Errorf("%s returned %s, want string", e.function, result.Type())
	}
}

// Close releases all Lua states.
func (e *Engine) Close(ctx context.Context) error {
	return e.states.Close(ctx)
}

// openSafeLibraries opens only libraries without filesystem or process access.
// print goes to the log; stdout may be carrying formatted output.
func openSafeLibraries(L *lua.LState, logger *zap.Logger) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	L.SetTop(0)

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require"} {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, L.GetTop())
		for i := range parts {
			parts[i] = L.ToStringMeta(L.Get(i + 1)).String()
		}
		logger.Info("lua print", zap.String("msg", strings.Join(parts, "\t")))
		return 0
	}))
}

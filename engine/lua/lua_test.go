package lua

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/fmt-bridge/errors"
)

const spacingScript = `
function format(src)
  if src:sub(1, 1) == "!" then
    return nil, "syntax error at 1:1"
  end
  return (src:gsub("%s*=%s*", " = "))
end
`

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func TestEngine_Format(t *testing.T) {
	e := newEngine(t, Config{Source: spacingScript, PoolSize: 2})

	got, err := e.Format(context.Background(), "x=1\n")
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if got != "x = 1\n" {
		t.Errorf("Format = %q, want %q", got, "x = 1\n")
	}
	if e.Name() != Name {
		t.Errorf("Name = %q", e.Name())
	}
}

func TestEngine_ScriptReportsFailure(t *testing.T) {
	e := newEngine(t, Config{Source: spacingScript})

	_, err := e.Format(context.Background(), "!x\n")
	if errors.KindOf(err) != errors.KindEngine {
		t.Fatalf("err = %v, want engine failure", err)
	}
	if !strings.Contains(err.Error(), "syntax error at 1:1") {
		t.Errorf("err = %v, want script message", err)
	}

	// The state stays usable after a reported failure.
	if _, err := e.Format(context.Background(), "y=2\n"); err != nil {
		t.Errorf("Format after failure: %v", err)
	}
}

func TestEngine_BadReturns(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   string
	}{
		{"nil", `function format(src) return nil end`, "returned nil"},
		{"number", `function format(src) return 42 end`, "want string"},
		{"runtime error", `function format(src) error("boom") end`, "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, Config{Source: tt.script})
			_, err := e.Format(context.Background(), "x")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestEngine_CustomFunctionFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upper.lua")
	script := `function shout(src) return string.upper(src) end`
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}

	e := newEngine(t, Config{Path: path, Function: "shout"})
	got, err := e.Format(context.Background(), "puts 1\n")
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if got != "PUTS 1\n" {
		t.Errorf("Format = %q", got)
	}
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		kind errors.Kind
	}{
		{"no script", Config{}, errors.KindInvalidInput},
		{"missing file", Config{Path: "/nonexistent/format.lua"}, errors.KindInvalidInput},
		{"syntax error", Config{Source: "function format("}, errors.KindInvalidInput},
		{"missing function", Config{Source: "x = 1"}, errors.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(context.Background(), tt.cfg)
			if got := errors.KindOf(err); got != tt.kind {
				t.Errorf("kind = %q, want %q (err: %v)", got, tt.kind, err)
			}
		})
	}
}

func TestSandbox(t *testing.T) {
	tests := []string{
		`function format(src) return os.getenv("HOME") end`,
		`function format(src) return io.read() end`,
		`function format(src) return dofile("/etc/passwd") end`,
		`function format(src) return loadstring("return 1")() end`,
	}
	for _, script := range tests {
		e := newEngine(t, Config{Source: script})
		if _, err := e.Format(context.Background(), "x"); err == nil {
			t.Errorf("script escaped sandbox: %s", script)
		}
	}
}

func TestEngine_ContextCancel(t *testing.T) {
	e := newEngine(t, Config{Source: `function format(src) while true do end end`, PoolSize: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := e.Format(ctx, "x"); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestEngine_Concurrent(t *testing.T) {
	e := newEngine(t, Config{Source: spacingScript, PoolSize: 4})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := e.Format(context.Background(), "a=b\n")
			if err != nil || got != "a = b\n" {
				t.Errorf("Format = %q, %v", got, err)
			}
		}()
	}
	wg.Wait()
}

func TestSandbox_PrintGoesToLog(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	e := newEngine(t, Config{
		Logger: zap.New(core),
		Source: `function format(src) print("seen", #src, nil) return src end`,
	})

	got, err := e.Format(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if got != "abc" {
		t.Errorf("Format = %q, want print to leave the result alone", got)
	}

	entries := logs.FilterMessage("lua print").All()
	if len(entries) != 1 {
		t.Fatalf("got %d print entries, want 1", len(entries))
	}
	if msg := entries[0].ContextMap()["msg"]; msg != "seen\t3\tnil" {
		t.Errorf("msg = %q", msg)
	}
}

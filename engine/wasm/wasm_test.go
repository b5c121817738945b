package wasm

import (
	"context"
	"strings"
	"sync"
	"testing"

	fmtbridge "github.com/wippyai/fmt-bridge"
	"github.com/wippyai/fmt-bridge/boundary"
	"github.com/wippyai/fmt-bridge/errors"
	"github.com/wippyai/fmt-bridge/heap"
)

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	ctx := context.Background()
	e, err := New(ctx, echoGuest(""), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = e.Close(ctx) })
	return e
}

// counters reads the guest's free counters from an idle instance.
func counters(t *testing.T, e *Engine) (frees, stringFrees uint64) {
	t.Helper()
	ctx := context.Background()
	inst, err := e.instances.Get(ctx)
	if err != nil {
		t.Fatalf("Get instance: %v", err)
	}
	defer e.instances.Put(ctx, inst)
	return inst.mod.ExportedGlobal("frees").Get(), inst.mod.ExportedGlobal("string_frees").Get()
}

func TestEngine_Format(t *testing.T) {
	e := newTestEngine(t, Config{PoolSize: 1})

	got, err := e.Format(context.Background(), "x = 1\n")
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if got != "x = 1\n" {
		t.Errorf("Format = %q, want %q", got, "x = 1\n")
	}

	frees, stringFrees := counters(t, e)
	if frees != 1 || stringFrees != 1 {
		t.Errorf("frees = %d, string_frees = %d; want 1 and 1", frees, stringFrees)
	}
	if e.Name() != Name {
		t.Errorf("Name = %q", e.Name())
	}
}

func TestEngine_GuestReturnsNull(t *testing.T) {
	e := newTestEngine(t, Config{PoolSize: 1})

	_, err := e.Format(context.Background(), "!broken\n")
	if errors.KindOf(err) != errors.KindEngine {
		t.Fatalf("err = %v, want engine failure", err)
	}

	// The input is released, no result to release.
	frees, stringFrees := counters(t, e)
	if frees != 1 || stringFrees != 0 {
		t.Errorf("frees = %d, string_frees = %d; want 1 and 0", frees, stringFrees)
	}
}

func TestEngine_TrapDiscardsInstance(t *testing.T) {
	e := newTestEngine(t, Config{PoolSize: 1})

	if _, err := e.Format(context.Background(), "ok\n"); err != nil {
		t.Fatalf("Format: %v", err)
	}

	_, err := e.Format(context.Background(), "#trap\n")
	if errors.KindOf(err) != errors.KindTrap {
		t.Fatalf("err = %v, want trap", err)
	}

	got, err := e.Format(context.Background(), "after\n")
	if err != nil || got != "after\n" {
		t.Fatalf("Format after trap = %q, %v", got, err)
	}

	// A fresh instance replaced the trapped one.
	frees, stringFrees := counters(t, e)
	if frees != 1 || stringFrees != 1 {
		t.Errorf("frees = %d, string_frees = %d; want counters of a new instance", frees, stringFrees)
	}
}

func TestEngine_EmbeddedNULInput(t *testing.T) {
	e := newTestEngine(t, Config{PoolSize: 1})

	_, err := e.Format(context.Background(), "a\x00b")
	if errors.KindOf(err) != errors.KindEngine {
		t.Fatalf("err = %v, want engine failure", err)
	}
	if !strings.Contains(err.Error(), "embedded_nul") {
		t.Errorf("err = %v, want embedded_nul cause", err)
	}
}

func TestEngine_MaxOutputBytes(t *testing.T) {
	e := newTestEngine(t, Config{PoolSize: 1, MaxOutputBytes: 3})

	_, err := e.Format(context.Background(), "abcdef")
	if err == nil || !strings.Contains(err.Error(), "overflow") {
		t.Errorf("err = %v, want overflow", err)
	}
	frees, stringFrees := counters(t, e)
	if frees != 1 || stringFrees != 1 {
		t.Errorf("frees = %d, string_frees = %d; result must still be released", frees, stringFrees)
	}
}

func TestNew_MissingExports(t *testing.T) {
	tests := []struct {
		omit string
		want string
	}{
		{"format", "format"},
		{"free_string", "free_string"},
		{"malloc", "allocator"},
		{"free", "deallocator"},
		{"memory", "memory"},
	}
	for _, tt := range tests {
		t.Run(tt.omit, func(t *testing.T) {
			_, err := New(context.Background(), echoGuest(tt.omit), Config{PoolSize: 1})
			if errors.KindOf(err) != errors.KindNotFound {
				t.Fatalf("err = %v, want not_found", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestNew_ConfiguredExports(t *testing.T) {
	_, err := New(context.Background(), echoGuest(""), Config{FormatExport: "malloc", FreeStringExport: "nope"})
	if errors.KindOf(err) != errors.KindNotFound {
		t.Errorf("err = %v, want not_found for free_string override", err)
	}

	_, err = New(context.Background(), echoGuest(""), Config{FreeStringExport: "malloc"})
	if errors.KindOf(err) != errors.KindInvalidInput {
		t.Errorf("err = %v, want signature mismatch", err)
	}
}

func TestNew_InvalidModule(t *testing.T) {
	_, err := New(context.Background(), []byte("not wasm"), Config{})
	if errors.KindOf(err) != errors.KindInvalidInput {
		t.Errorf("err = %v, want load error", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(context.Background(), Config{Path: "/nonexistent/rubyfmt.wasm"}); err == nil {
		t.Error("expected error")
	}
	if _, err := Load(context.Background(), Config{}); errors.KindOf(err) != errors.KindInvalidInput {
		t.Errorf("err = %v, want invalid_input", err)
	}
}

func TestEngine_ThroughBoundary(t *testing.T) {
	e := newTestEngine(t, Config{PoolSize: 2})
	a := heap.New()
	m := boundary.New(a, a, e)
	ctx := context.Background()

	in, err := boundary.EncodeCString(a, a, "def x; end\n")
	if err != nil {
		t.Fatalf("EncodeCString: %v", err)
	}
	defer a.Free(in)

	out := m.Format(ctx, in)
	if out == fmtbridge.Null {
		t.Fatal("Format returned Null")
	}
	got, err := boundary.DecodeCString(a, out, boundary.NoLimit)
	if err != nil || got != "def x; end\n" {
		t.Errorf("output = %q, %v", got, err)
	}
	m.Free(out)

	bad, _ := boundary.EncodeCString(a, a, "!x")
	defer a.Free(bad)
	if m.Format(ctx, bad) != fmtbridge.Null {
		t.Error("guest failure should surface as Null")
	}
}

func TestEngine_Concurrent(t *testing.T) {
	e := newTestEngine(t, Config{PoolSize: 4})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := e.Format(context.Background(), "puts :ok\n")
			if err != nil || got != "puts :ok\n" {
				t.Errorf("Format = %q, %v", got, err)
			}
		}()
	}
	wg.Wait()
}

package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseDecode,
				Kind:   KindInvalidUTF8,
				Detail: "invalid UTF-8 sequence: ff",
			},
			contains: []string{"[decode]", "invalid_utf8", "ff"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseEncode,
				Kind:  KindEmbeddedNUL,
			},
			contains: []string{"[encode]", "embedded_nul"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseFormat,
				Kind:   KindEngine,
				Detail: "wasm",
				Cause:  errors.New("syntax error"),
			},
			contains: []string{"[format]", "engine_failure", "wasm", "caused by", "syntax error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseFormat,
		Kind:  KindEngine,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase:  PhaseDecode,
		Kind:   KindInvalidUTF8,
		Detail: "bad",
	}

	if !err.Is(&Error{Phase: PhaseDecode, Kind: KindInvalidUTF8}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseEncode, Kind: KindInvalidUTF8}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseDecode, Kind: KindOverflow}) {
		t.Error("Is should not match different kind")
	}

	wrapped := fmt.Errorf("outer: %w", err)
	if !errors.Is(wrapped, &Error{Phase: PhaseDecode, Kind: KindInvalidUTF8}) {
		t.Error("errors.Is should match through wrapping")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseEncode, KindAllocation).
		Value(42).
		Cause(cause).
		Detail("need %d bytes", 42).
		Build()

	if err.Phase != PhaseEncode {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseEncode)
	}
	if err.Kind != KindAllocation {
		t.Errorf("Kind = %v, want %v", err.Kind, KindAllocation)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if err.Detail != "need 42 bytes" {
		t.Errorf("Detail = %q", err.Detail)
	}
	if !errors.Is(err, cause) {
		t.Error("cause not reachable")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		err   *Error
		name  string
		phase Phase
		kind  Kind
	}{
		{NilPointer(PhaseDecode, "input"), "NilPointer", PhaseDecode, KindNilPointer},
		{InvalidUTF8(PhaseDecode, []byte{0xff}), "InvalidUTF8", PhaseDecode, KindInvalidUTF8},
		{Overflow(PhaseDecode, 16), "Overflow", PhaseDecode, KindOverflow},
		{EmbeddedNUL(PhaseEncode, 3), "EmbeddedNUL", PhaseEncode, KindEmbeddedNUL},
		{AllocationFailed(PhaseEncode, 8, cause), "AllocationFailed", PhaseEncode, KindAllocation},
		{OutOfBounds(PhaseEncode, 0x10, 4), "OutOfBounds", PhaseEncode, KindOutOfBounds},
		{EngineFailed("lua", cause), "EngineFailed", PhaseFormat, KindEngine},
		{Trap("wasm", cause), "Trap", PhaseFormat, KindTrap},
		{Panic(PhaseFormat, "oops"), "Panic", PhaseFormat, KindPanic},
		{Unsupported(PhaseConfig, "kind"), "Unsupported", PhaseConfig, KindUnsupported},
		{InvalidInput(PhaseConfig, "bad"), "InvalidInput", PhaseConfig, KindInvalidInput},
		{NotFound(PhaseLoad, "export", "format"), "NotFound", PhaseLoad, KindNotFound},
		{Closed(PhaseRuntime, "engine"), "Closed", PhaseRuntime, KindClosed},
		{Instantiation(cause), "Instantiation", PhaseRuntime, KindInstantiation},
		{Load("read module", cause), "Load", PhaseLoad, KindInvalidInput},
		{Wrap(PhaseRuntime, KindTrap, cause, "call"), "Wrap", PhaseRuntime, KindTrap},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Phase != tt.phase {
				t.Errorf("Phase = %v, want %v", tt.err.Phase, tt.phase)
			}
			if tt.err.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", tt.err.Kind, tt.kind)
			}
			if tt.err.Error() == "" {
				t.Error("empty message")
			}
		})
	}
}

func TestInvalidUTF8_TruncatesPreview(t *testing.T) {
	data := make([]byte, 100)
	for i := range data {
		data[i] = 0xff
	}
	err := InvalidUTF8(PhaseDecode, data)
	if got := strings.Count(err.Detail, "ff"); got != 32 {
		t.Errorf("preview has %d bytes, want 32", got)
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(nil); got != "" {
		t.Errorf("KindOf(nil) = %q", got)
	}
	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("KindOf(plain) = %q", got)
	}
	wrapped := fmt.Errorf("ctx: %w", EmbeddedNUL(PhaseEncode, 1))
	if got := KindOf(wrapped); got != KindEmbeddedNUL {
		t.Errorf("KindOf(wrapped) = %q, want %q", got, KindEmbeddedNUL)
	}
}

func TestAs(t *testing.T) {
	inner := Trap("wasm", errors.New("unreachable"))
	e, ok := As(fmt.Errorf("call: %w", inner))
	if !ok || e != inner {
		t.Fatalf("As() = %v, %v", e, ok)
	}
	if _, ok := As(errors.New("plain")); ok {
		t.Error("As(plain) should fail")
	}
}

package boundary

import (
	"context"

	"go.uber.org/zap"

	fmtbridge "github.com/wippyai/fmt-bridge"
	"github.com/wippyai/fmt-bridge/errors"
)

// Marshaller converts between foreign C strings and a Formatter.
type Marshaller struct {
	mem       fmtbridge.Memory
	alloc     fmtbridge.Allocator
	formatter fmtbridge.Formatter
	logger    *zap.Logger
	limit     uint32
}

// Option configures a Marshaller.
type Option func(*Marshaller)

// WithLogger sets the logger that records causes dropped at the boundary.
func WithLogger(l *zap.Logger) Option {
	return func(m *Marshaller) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMaxInputBytes bounds the length of input strings. Zero means no bound.
func WithMaxInputBytes(n uint32) Option {
	return func(m *Marshaller) {
		if n == 0 || n > NoLimit {
			n = NoLimit
		}
		m.limit = n
	}
}

// New creates a marshaller. alloc must be the allocator whose Free matches
// the deallocation entry point exposed to callers.
func New(mem fmtbridge.Memory, alloc fmtbridge.Allocator, f fmtbridge.Formatter, opts ...Option) *Marshaller {
	m := &Marshaller{
		mem:       mem,
		alloc:     alloc,
		formatter: f,
		logger:    fmtbridge.Logger(),
		limit:     NoLimit,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Format formats the string at src and returns a newly allocated result, or
// Null on any failure. A non-Null result must be released with Free.
func (m *Marshaller) Format(ctx context.Context, src fmtbridge.Ptr) fmtbridge.Ptr {
	out, err := m.FormatErr(ctx, src)
	if err != nil {
		m.logger.Debug("format failed", zap.Uint64("src", uint64(src)), zap.Error(err))
		return fmtbridge.Null
	}
	return out
}

// FormatErr is Format with the failure cause returned. out is Null whenever
// err is non-nil.
func (m *Marshaller) FormatErr(ctx context.Context, src fmtbridge.Ptr) (out fmtbridge.Ptr, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = fmtbridge.Null, errors.Panic(errors.PhaseFormat, r)
		}
	}()

	if src == fmtbridge.Null {
		return fmtbridge.Null, errors.NilPointer(errors.PhaseDecode, "input")
	}

	text, err := DecodeCString(m.mem, src, m.limit)
	if err != nil {
		return fmtbridge.Null, err
	}

	formatted, err := m.formatter.Format(ctx, text)
	if err != nil {
		if errors.KindOf(err) == "" {
			err = errors.EngineFailed("formatter", err)
		}
		return fmtbridge.Null, err
	}

	return EncodeCString(m.mem, m.alloc, formatted)
}

// FormatDetailed widens Format with a diagnostic. On success diag is Null.
// On failure out is Null and diag points to the error text allocated through
// the same allocator, or Null if that could not be produced either. Both
// results are released with Free.
func (m *Marshaller) FormatDetailed(ctx context.Context, src fmtbridge.Ptr) (out, diag fmtbridge.Ptr) {
	out, err := m.FormatErr(ctx, src)
	if err == nil {
		return out, fmtbridge.Null
	}

	m.logger.Debug("format failed", zap.Uint64("src", uint64(src)), zap.Error(err))
	diag, encErr := m.encodeDiagnostic(err.Error())
	if encErr != nil {
		m.logger.Warn("diagnostic dropped", zap.Error(encErr))
		return fmtbridge.Null, fmtbridge.Null
	}
	return fmtbridge.Null, diag
}

func (m *Marshaller) encodeDiagnostic(msg string) (diag fmtbridge.Ptr, err error) {
	defer func() {
		if r := recover(); r != nil {
			diag, err = fmtbridge.Null, errors.Panic(errors.PhaseEncode, r)
		}
	}()
	// Error text may quote input bytes; a zero byte must not cut it short.
	return EncodeCString(m.mem, m.alloc, stripNUL(msg))
}

// Free releases a pointer returned by Format or FormatDetailed.
// Null is ignored. Freeing any other pointer, or the same pointer twice,
// is undefined behavior.
func (m *Marshaller) Free(ptr fmtbridge.Ptr) {
	if ptr == fmtbridge.Null {
		return
	}
	m.alloc.Free(ptr)
}

func stripNUL(s string) string {
	b := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != 0 {
			b = append(b, s[i])
		}
	}
	return string(b)
}

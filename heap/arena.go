// Package heap provides a Go-managed memory arena that implements the
// fmtbridge Memory and Allocator interfaces.
//
// The arena stands in for a foreign heap: pointers are offsets into a byte
// slice, every allocation is tracked, and frees of unknown pointers are
// counted instead of corrupting anything. It drives the boundary from Go
// (the CLI and playground) and lets tests assert the ownership protocol.
package heap

import (
	"bytes"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	fmtbridge "github.com/wippyai/fmt-bridge"
	"github.com/wippyai/fmt-bridge/errors"
)

const (
	// base keeps offset 0 unused so it can serve as Null.
	base = 8

	// DefaultLimit caps arena growth at 64MB.
	DefaultLimit = 64 << 20
)

// Stats reports allocation accounting.
type Stats struct {
	Allocs   int
	Frees    int
	BadFrees int
	Live     int
	Bytes    uint32
}

// Arena is a bump allocator over a growable byte slice.
// When the last live allocation is freed the arena rewinds to its base.
// It is safe for concurrent use.
type Arena struct {
	live   map[fmtbridge.Ptr]uint32
	logger *zap.Logger
	buf    []byte
	stats  Stats
	next   uint32
	limit  uint32
	mu     sync.Mutex
}

// Option configures an Arena.
type Option func(*Arena)

// WithLimit sets the maximum arena size in bytes.
func WithLimit(limit uint32) Option {
	return func(a *Arena) {
		a.limit = limit
	}
}

// WithLogger sets the logger used to report invalid frees.
func WithLogger(l *zap.Logger) Option {
	return func(a *Arena) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an empty arena.
func New(opts ...Option) *Arena {
	a := &Arena{
		live:   make(map[fmtbridge.Ptr]uint32),
		buf:    make([]byte, base, 4096),
		next:   base,
		limit:  DefaultLimit,
		logger: fmtbridge.Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Alloc reserves size bytes. Zero-sized requests still get a distinct pointer.
func (a *Arena) Alloc(size uint32) (fmtbridge.Ptr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := size
	if n == 0 {
		n = 1
	}
	end := uint64(a.next) + uint64(n)
	if end > uint64(a.limit) {
		return fmtbridge.Null, fmt.Errorf("arena exhausted: need %d bytes, %d of %d in use", n, a.next, a.limit)
	}

	ptr := fmtbridge.Ptr(a.next)
	if int(end) > len(a.buf) {
		a.buf = append(a.buf, make([]byte, int(end)-len(a.buf))...)
	}
	clear(a.buf[a.next:end])
	a.next = uint32(end)
	a.live[ptr] = n
	a.stats.Allocs++
	return ptr, nil
}

// Free releases an allocation made by Alloc. Unknown or already freed
// pointers are counted as bad frees and otherwise ignored.
func (a *Arena) Free(ptr fmtbridge.Ptr) {
	if ptr == fmtbridge.Null {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.live[ptr]; !ok {
		a.stats.BadFrees++
		a.logger.Warn("arena: free of unknown pointer", zap.Uint64("ptr", uint64(ptr)))
		return
	}
	delete(a.live, ptr)
	a.stats.Frees++
	if len(a.live) == 0 {
		a.next = base
	}
}

func (a *Arena) Read(ptr fmtbridge.Ptr, length uint32) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start, end, ok := a.span(ptr, uint64(length))
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseDecode, uint64(ptr), int(length))
	}
	out := make([]byte, length)
	copy(out, a.buf[start:end])
	return out, nil
}

func (a *Arena) Write(ptr fmtbridge.Ptr, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	start, end, ok := a.span(ptr, uint64(len(data)))
	if !ok {
		return errors.OutOfBounds(errors.PhaseEncode, uint64(ptr), len(data))
	}
	copy(a.buf[start:end], data)
	return nil
}

func (a *Arena) ReadU8(ptr fmtbridge.Ptr) (uint8, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start, _, ok := a.span(ptr, 1)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseDecode, uint64(ptr), 1)
	}
	return a.buf[start], nil
}

// Strlen finds the terminator of the string at ptr within limit bytes.
func (a *Arena) Strlen(ptr fmtbridge.Ptr, limit uint32) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ptr == fmtbridge.Null || uint64(ptr) >= uint64(len(a.buf)) {
		return 0, errors.OutOfBounds(errors.PhaseDecode, uint64(ptr), 1)
	}
	window := a.buf[ptr:]
	capped := false
	if uint64(len(window)) > uint64(limit)+1 {
		window = window[:uint64(limit)+1]
		capped = true
	}
	if i := bytes.IndexByte(window, 0); i >= 0 {
		return uint32(i), nil
	}
	if capped {
		return 0, errors.Overflow(errors.PhaseDecode, limit)
	}
	return 0, errors.OutOfBounds(errors.PhaseDecode, uint64(ptr), len(window)+1)
}

// Size returns the number of bytes currently backed by the arena.
func (a *Arena) Size() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return uint32(len(a.buf))
}

// Live returns the number of outstanding allocations.
func (a *Arena) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

// Stats returns a snapshot of the allocation counters.
func (a *Arena) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.stats
	s.Live = len(a.live)
	for _, n := range a.live {
		s.Bytes += n
	}
	return s
}

// span must be called with mu held.
func (a *Arena) span(ptr fmtbridge.Ptr, length uint64) (uint64, uint64, bool) {
	if ptr == fmtbridge.Null || uint64(ptr) > math.MaxUint32 {
		return 0, 0, false
	}
	start := uint64(ptr)
	end := start + length
	if end > uint64(len(a.buf)) {
		return 0, 0, false
	}
	return start, end, true
}

var (
	_ fmtbridge.Memory      = (*Arena)(nil)
	_ fmtbridge.MemorySizer = (*Arena)(nil)
	_ fmtbridge.Strlener    = (*Arena)(nil)
	_ fmtbridge.Allocator   = (*Arena)(nil)
)

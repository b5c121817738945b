package wasm

import (
	"bytes"
	"context"
	"fmt"
	"math"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	fmtbridge "github.com/wippyai/fmt-bridge"
	"github.com/wippyai/fmt-bridge/errors"
)

// guestMemory wraps wazero memory to implement fmtbridge.Memory
type guestMemory struct {
	mem api.Memory
}

func offset(ptr fmtbridge.Ptr) (uint32, bool) {
	if ptr > math.MaxUint32 {
		return 0, false
	}
	return uint32(ptr), true
}

func (m *guestMemory) Read(ptr fmtbridge.Ptr, length uint32) ([]byte, error) {
	off, ok := offset(ptr)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseDecode, uint64(ptr), int(length))
	}
	data, ok := m.mem.Read(off, length)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseDecode, uint64(ptr), int(length))
	}
	return data, nil
}

func (m *guestMemory) Write(ptr fmtbridge.Ptr, data []byte) error {
	off, ok := offset(ptr)
	if !ok || !m.mem.Write(off, data) {
		return errors.OutOfBounds(errors.PhaseEncode, uint64(ptr), len(data))
	}
	return nil
}

func (m *guestMemory) ReadU8(ptr fmtbridge.Ptr) (uint8, error) {
	off, ok := offset(ptr)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseDecode, uint64(ptr), 1)
	}
	b, ok := m.mem.ReadByte(off)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseDecode, uint64(ptr), 1)
	}
	return b, nil
}

// Strlen searches linear memory directly instead of byte by byte.
func (m *guestMemory) Strlen(ptr fmtbridge.Ptr, limit uint32) (uint32, error) {
	off, ok := offset(ptr)
	size := m.mem.Size()
	if !ok || off >= size {
		return 0, errors.OutOfBounds(errors.PhaseDecode, uint64(ptr), 1)
	}

	window := uint64(size - off)
	capped := false
	if window > uint64(limit)+1 {
		window = uint64(limit) + 1
		capped = true
	}
	data, _ := m.mem.Read(off, uint32(window))
	if i := bytes.IndexByte(data, 0); i >= 0 {
		return uint32(i), nil
	}
	if capped {
		return 0, errors.Overflow(errors.PhaseDecode, limit)
	}
	return 0, errors.OutOfBounds(errors.PhaseDecode, uint64(ptr), int(window)+1)
}

func (m *guestMemory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

// guestAllocator implements fmtbridge.Allocator using the guest's exports.
// Sizes are remembered so deallocators that take (ptr, size) can be served
// through the size-less Free.
type guestAllocator struct {
	currentCtx context.Context
	allocFn    api.Function
	freeFn     api.Function
	sizes      map[fmtbridge.Ptr]uint32
	logger     *zap.Logger
	stackBuf   []uint64
	freeArity  int
	realloc    bool
	// broken is set once a guest call fails; the instance must not be reused.
	broken bool
}

func (a *guestAllocator) setContext(ctx context.Context) {
	a.currentCtx = ctx
}

func (a *guestAllocator) context() context.Context {
	if a.currentCtx == nil {
		return context.Background()
	}
	return a.currentCtx
}

func (a *guestAllocator) Alloc(size uint32) (fmtbridge.Ptr, error) {
	if a.broken {
		return fmtbridge.Null, fmt.Errorf("guest instance is unusable")
	}

	var err error
	if a.realloc {
		a.stackBuf[0] = 0
		a.stackBuf[1] = 0
		a.stackBuf[2] = 1
		a.stackBuf[3] = uint64(size)
		err = a.allocFn.CallWithStack(a.context(), a.stackBuf[:4])
	} else {
		a.stackBuf[0] = uint64(size)
		err = a.allocFn.CallWithStack(a.context(), a.stackBuf[:1])
	}
	if err != nil {
		a.broken = true
		return fmtbridge.Null, err
	}

	ptr := fmtbridge.Ptr(uint32(a.stackBuf[0]))
	if ptr == fmtbridge.Null {
		return fmtbridge.Null, fmt.Errorf("guest allocator returned null for %d bytes", size)
	}
	a.sizes[ptr] = size
	return ptr, nil
}

func (a *guestAllocator) Free(ptr fmtbridge.Ptr) {
	if ptr == fmtbridge.Null || a.broken {
		return
	}
	size := a.sizes[ptr]
	delete(a.sizes, ptr)

	var err error
	switch {
	case a.freeFn == nil:
		a.stackBuf[0] = uint64(ptr)
		a.stackBuf[1] = uint64(size)
		a.stackBuf[2] = 1
		a.stackBuf[3] = 0
		err = a.allocFn.CallWithStack(a.context(), a.stackBuf[:4])
	default:
		a.stackBuf[0] = uint64(ptr)
		a.stackBuf[1] = uint64(size)
		a.stackBuf[2] = 1
		err = a.freeFn.CallWithStack(a.context(), a.stackBuf[:a.freeArity])
	}
	if err != nil {
		a.broken = true
		a.logger.Warn("guest free failed",
			zap.Uint64("ptr", uint64(ptr)),
			zap.Uint32("size", size),
			zap.Error(err))
	}
}

var (
	_ fmtbridge.Memory      = (*guestMemory)(nil)
	_ fmtbridge.MemorySizer = (*guestMemory)(nil)
	_ fmtbridge.Strlener    = (*guestMemory)(nil)
	_ fmtbridge.Allocator   = (*guestAllocator)(nil)
)

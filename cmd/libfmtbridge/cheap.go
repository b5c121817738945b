//go:build cgo

package main

/*
#include <stdlib.h>
#include <string.h>
*/
import "C"

import (
	"unsafe"

	fmtbridge "github.com/wippyai/fmt-bridge"
	"github.com/wippyai/fmt-bridge/errors"
)

// cHeap is the process C heap. Pointers are native addresses, so strings
// returned to C callers can be released with free_string and nothing else.
type cHeap struct{}

var (
	_ fmtbridge.Memory    = cHeap{}
	_ fmtbridge.Strlener  = cHeap{}
	_ fmtbridge.Allocator = cHeap{}
)

func addr(p fmtbridge.Ptr) unsafe.Pointer {
	return unsafe.Pointer(uintptr(p))
}

func (cHeap) Alloc(size uint32) (fmtbridge.Ptr, error) {
	p := C.malloc(C.size_t(size))
	if p == nil {
		return fmtbridge.Null, errors.AllocationFailed(errors.PhaseEncode, size, nil)
	}
	return fmtbridge.Ptr(uintptr(p)), nil
}

func (cHeap) Free(ptr fmtbridge.Ptr) {
	if ptr == fmtbridge.Null {
		return
	}
	C.free(addr(ptr))
}

func (cHeap) Read(ptr fmtbridge.Ptr, length uint32) ([]byte, error) {
	if ptr == fmtbridge.Null {
		return nil, errors.OutOfBounds(errors.PhaseDecode, uint64(ptr), int(length))
	}
	out := make([]byte, length)
	copy(out, unsafe.Slice((*byte)(addr(ptr)), length))
	return out, nil
}

func (cHeap) Write(ptr fmtbridge.Ptr, data []byte) error {
	if ptr == fmtbridge.Null {
		return errors.OutOfBounds(errors.PhaseEncode, uint64(ptr), len(data))
	}
	copy(unsafe.Slice((*byte)(addr(ptr)), len(data)), data)
	return nil
}

func (cHeap) ReadU8(ptr fmtbridge.Ptr) (uint8, error) {
	if ptr == fmtbridge.Null {
		return 0, errors.OutOfBounds(errors.PhaseDecode, uint64(ptr), 1)
	}
	return *(*uint8)(addr(ptr)), nil
}

// Strlen scans at most limit+1 bytes.
func (cHeap) Strlen(ptr fmtbridge.Ptr, limit uint32) (uint32, error) {
	n := uint64(C.strnlen((*C.char)(addr(ptr)), C.size_t(limit)+1))
	if n > uint64(limit) {
		return 0, errors.Overflow(errors.PhaseDecode, limit)
	}
	return uint32(n), nil
}

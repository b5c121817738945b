package fmtbridge

import "context"

// Ptr is an address in the memory a Memory implementation manages.
// For the C heap it is a native pointer, for a WebAssembly guest an offset
// into linear memory.
type Ptr uint64

// Null is the sentinel returned for every failure at the boundary.
const Null Ptr = 0

// Memory provides raw access to the memory that boundary strings live in.
type Memory interface {
	Read(ptr Ptr, length uint32) ([]byte, error)
	Write(ptr Ptr, data []byte) error
	ReadU8(ptr Ptr) (uint8, error)
}

// MemorySizer provides the current size of bounded memory in bytes.
type MemorySizer interface {
	Size() uint32
}

// Strlener is implemented by memories that can measure a NUL-terminated
// string faster than a byte-by-byte scan. limit bounds the search.
type Strlener interface {
	Strlen(ptr Ptr, limit uint32) (uint32, error)
}

// Allocator allocates memory that Free later releases.
// Free must only be given pointers returned by Alloc on the same allocator.
type Allocator interface {
	Alloc(size uint32) (Ptr, error)
	Free(ptr Ptr)
}

// Formatter is the external formatting engine.
type Formatter interface {
	Format(ctx context.Context, source string) (string, error)
}

// FormatterFunc adapts a function to Formatter.
type FormatterFunc func(ctx context.Context, source string) (string, error)

func (f FormatterFunc) Format(ctx context.Context, source string) (string, error) {
	return f(ctx, source)
}

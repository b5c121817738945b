package boundary

import (
	"math"
	"strings"
	"unicode/utf8"

	fmtbridge "github.com/wippyai/fmt-bridge"
	"github.com/wippyai/fmt-bridge/errors"
)

// NoLimit disables the input length bound.
const NoLimit = math.MaxUint32 - 1

// Strlen returns the length of the NUL-terminated string at ptr, not
// counting the terminator. Strings longer than limit are rejected.
func Strlen(mem fmtbridge.Memory, ptr fmtbridge.Ptr, limit uint32) (uint32, error) {
	if ptr == fmtbridge.Null {
		return 0, errors.NilPointer(errors.PhaseDecode, "string pointer")
	}
	if s, ok := mem.(fmtbridge.Strlener); ok {
		return s.Strlen(ptr, limit)
	}

	for n := uint32(0); ; n++ {
		b, err := mem.ReadU8(ptr + fmtbridge.Ptr(n))
		if err != nil {
			return 0, err
		}
		if b == 0 {
			return n, nil
		}
		if n == limit {
			return 0, errors.Overflow(errors.PhaseDecode, limit)
		}
	}
}

// DecodeCString copies the NUL-terminated UTF-8 string at ptr into a Go
// string. The memory at ptr is neither retained nor modified.
func DecodeCString(mem fmtbridge.Memory, ptr fmtbridge.Ptr, limit uint32) (string, error) {
	n, err := Strlen(mem, ptr, limit)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}

	data, err := mem.Read(ptr, n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", errors.InvalidUTF8(errors.PhaseDecode, data)
	}
	return string(data), nil
}

// EncodeCString allocates len(text)+1 bytes through alloc and writes text
// followed by a terminator. Text containing a zero byte is rejected rather
// than truncated. On any failure nothing stays allocated.
func EncodeCString(mem fmtbridge.Memory, alloc fmtbridge.Allocator, text string) (fmtbridge.Ptr, error) {
	if i := strings.IndexByte(text, 0); i >= 0 {
		return fmtbridge.Null, errors.EmbeddedNUL(errors.PhaseEncode, i)
	}
	if uint64(len(text))+1 > math.MaxUint32 {
		return fmtbridge.Null, errors.AllocationFailed(errors.PhaseEncode, math.MaxUint32, nil)
	}

	size := uint32(len(text)) + 1
	ptr, err := alloc.Alloc(size)
	if err != nil {
		return fmtbridge.Null, errors.AllocationFailed(errors.PhaseEncode, size, err)
	}
	if ptr == fmtbridge.Null {
		return fmtbridge.Null, errors.AllocationFailed(errors.PhaseEncode, size, nil)
	}

	// Release the allocation on every path that does not hand it back,
	// including a panicking Write.
	handedOff := false
	defer func() {
		if !handedOff {
			alloc.Free(ptr)
		}
	}()

	buf := make([]byte, size)
	copy(buf, text)
	if err := mem.Write(ptr, buf); err != nil {
		return fmtbridge.Null, errors.Wrap(errors.PhaseEncode, errors.KindOutOfBounds, err, "write string")
	}
	handedOff = true
	return ptr, nil
}

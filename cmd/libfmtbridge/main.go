//go:build cgo

// Command libfmtbridge builds the C shared library:
//
//	go build -buildmode=c-shared -o libfmtbridge.so ./cmd/libfmtbridge
//
// Exported symbols:
//
//	char *format(const char *src);
//	void  free_string(char *s);
//	char *format_with_error(const char *src, char **err);
//	int   fmtbridge_configure(const char *path);
//
// Every non-NULL string returned by format or format_with_error, including
// the *err diagnostic, must be released exactly once with free_string.
// The library logs nothing until a config file enables [log].
package main

/*
#include <stdlib.h>
*/
import "C"

import (
	"context"
	"unsafe"

	fmtbridge "github.com/wippyai/fmt-bridge"
	"github.com/wippyai/fmt-bridge/internal/bridge"
)

var lib *bridge.Bridge

func init() {
	b, err := bridge.New(context.Background(), cHeap{}, cHeap{}, nil)
	if err != nil {
		panic(err)
	}
	lib = b
}

func ptr(p *C.char) fmtbridge.Ptr {
	return fmtbridge.Ptr(uintptr(unsafe.Pointer(p)))
}

func cptr(p fmtbridge.Ptr) *C.char {
	return (*C.char)(unsafe.Pointer(uintptr(p)))
}

//export format
func format(src *C.char) *C.char {
	return cptr(lib.Format(context.Background(), ptr(src)))
}

//export free_string
func free_string(s *C.char) {
	lib.Free(ptr(s))
}

//export format_with_error
func format_with_error(src *C.char, errOut **C.char) *C.char {
	out, diag := lib.FormatDetailed(context.Background(), ptr(src), errOut != nil)
	if errOut != nil {
		*errOut = cptr(diag)
	}
	return cptr(out)
}

//export fmtbridge_configure
func fmtbridge_configure(path *C.char) C.int {
	p := ""
	if path != nil {
		p = C.GoString(path)
	}
	if err := lib.Configure(context.Background(), p); err != nil {
		return -1
	}
	return 0
}

func main() {}

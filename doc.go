// Package fmtbridge exposes a source-code formatter through a C-compatible
// foreign function interface.
//
// A caller in any language that can link a C ABI passes a NUL-terminated
// string and receives a NUL-terminated string allocated by this library,
// which it must hand back through the paired deallocation entry point.
//
// # Architecture Overview
//
//	fmtbridge/           Root package with Ptr, Memory, Allocator and Formatter
//	├── boundary/        Boundary marshaller: C string decode/encode, format/free
//	├── heap/            Go-managed arena implementing Memory and Allocator
//	├── engine/          Formatter engines and the config-driven registry
//	│   ├── builtin/     Whitespace and Unicode normalizer (default)
//	│   ├── wasm/        Formatter compiled to WebAssembly, run with wazero
//	│   ├── lua/         Sandboxed Lua script formatter
//	│   └── command/     External formatter process
//	├── config/          TOML configuration and logger construction
//	├── errors/          Structured error types
//	└── cmd/
//	    ├── libfmtbridge/  c-shared library exporting format/free_string
//	    └── fmtbridge/     CLI and interactive playground
//
// # C ABI
//
//	char *format(const char *source);
//	void  free_string(char *s);
//	char *format_with_error(const char *source, char **err);
//	int   fmtbridge_configure(const char *path);
//
// format returns NULL for a NULL input, invalid UTF-8, an engine failure or
// output that cannot be represented as a C string. Every non-NULL result
// must be released exactly once with free_string.
//
// # Ownership
//
// The marshaller never retains or frees the input buffer. On success it makes
// exactly one allocation through its Allocator and transfers it to the caller;
// on failure it makes none. Nothing is reclaimed automatically.
//
// # Thread Safety
//
// The marshaller is stateless and safe for concurrent use. Engines whose
// instances are not thread-safe (WebAssembly instances, Lua states) keep a
// bounded pool of instances internally.
package fmtbridge

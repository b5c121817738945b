// Package boundary implements the marshaller that sits between a foreign
// caller and a formatting engine.
//
// The caller hands over a pointer to a NUL-terminated UTF-8 string it owns.
// The marshaller decodes a copy, runs the engine, and encodes the result into
// a fresh allocation that the caller then owns and must return through Free.
//
//	caller -> [ptr in] -> DecodeCString -> Formatter -> EncodeCString -> [ptr out] -> caller -> Free
//
// Every failure collapses to fmtbridge.Null: a null input, invalid UTF-8, an
// engine error, output with an embedded zero byte, an allocation or write
// failure, or a panic. No panic escapes Format, so it is safe to call from a
// cgo export. FormatErr and FormatDetailed expose the cause for callers that
// want it.
//
// The marshaller is stateless after construction and safe for concurrent use
// as long as its Memory and Allocator are.
package boundary

// Package errors provides structured error types for the formatting bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// None of these values cross the C ABI: the boundary flattens every error to a
// NULL return and, on the opt-in diagnostic path, to the text of Error().
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseDecode, errors.KindInvalidUTF8).
//		Detail("byte 0x%x at offset %d", b, i).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.EmbeddedNUL(errors.PhaseEncode, 12)
//	err := errors.EngineFailed("wasm", cause)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors

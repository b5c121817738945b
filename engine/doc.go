// Package engine opens the formatting engine a configuration selects.
//
// Engines implement [fmtbridge.Formatter] and own whatever they load:
//
//	builtin   whitespace and Unicode normalizer, no external code
//	wasm      a formatter compiled to WebAssembly, run with wazero
//	lua       a sandboxed Lua script
//	command   an external process reading stdin and writing stdout
//
// Engines are safe for concurrent use. Those backed by single-threaded
// instances (wasm modules, Lua states) keep a bounded pool of them.
package engine

package wasm

// Test guests are assembled by hand so the tests need no toolchain.

const (
	opUnreachable = 0x00
	opIf          = 0x04
	opEnd         = 0x0b
	opReturn      = 0x0f
	opLocalGet    = 0x20
	opGlobalGet   = 0x23
	opGlobalSet   = 0x24
	opI32Load8U   = 0x2d
	opI32Const    = 0x41
	opI32Eq       = 0x46
	opI32Add      = 0x6a

	blockEmpty = 0x40
	valI32     = 0x7f
	funcType   = 0x60

	secType     = 1
	secFunction = 3
	secMemory   = 5
	secGlobal   = 6
	secExport   = 7
	secCode     = 10

	kindFunc   = 0
	kindMemory = 2
	kindGlobal = 3
)

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

// sleb encodes small non-negative constants for i32.const.
func sleb(v int32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func section(id byte, payload []byte) []byte {
	return cat([]byte{id}, uleb(uint32(len(payload))), payload)
}

func vec(items ...[]byte) []byte {
	return cat(uleb(uint32(len(items))), cat(items...))
}

func name(s string) []byte {
	return cat(uleb(uint32(len(s))), []byte(s))
}

func export(n string, kind byte, idx uint32) []byte {
	return cat(name(n), []byte{kind}, uleb(idx))
}

// body wraps instructions into a function body without locals.
func body(code ...byte) []byte {
	b := cat([]byte{0x00}, code, []byte{opEnd})
	return cat(uleb(uint32(len(b))), b)
}

func mutableI32Global(init int32) []byte {
	return cat([]byte{valI32, 0x01, opI32Const}, sleb(init), []byte{opEnd})
}

// echoGuest builds a formatter guest that returns its input unchanged.
//
//	malloc(size) -> ptr   bump allocator starting at 1024
//	free(ptr)             counts calls in global "frees"
//	format(ptr) -> ptr    returns ptr; 0 if the text starts with '!', traps on '#'
//	free_string(ptr)      counts calls in global "string_frees"
//
// With omit set, the named export is left out.
func echoGuest(omit string) []byte {
	types := section(secType, vec(
		[]byte{funcType, 0x01, valI32, 0x01, valI32}, // (i32) -> i32
		[]byte{funcType, 0x01, valI32, 0x00},         // (i32) -> ()
	))
	funcs := section(secFunction, vec(
		uleb(0), // malloc
		uleb(1), // free
		uleb(0), // format
		uleb(1), // free_string
	))
	memory := section(secMemory, vec([]byte{0x00, 0x01}))
	globals := section(secGlobal, vec(
		mutableI32Global(1024), // heap top
		mutableI32Global(0),    // frees
		mutableI32Global(0),    // string_frees
	))

	var exports [][]byte
	for _, e := range []struct {
		name string
		kind byte
		idx  uint32
	}{
		{"memory", kindMemory, 0},
		{"malloc", kindFunc, 0},
		{"free", kindFunc, 1},
		{"format", kindFunc, 2},
		{"free_string", kindFunc, 3},
		{"frees", kindGlobal, 1},
		{"string_frees", kindGlobal, 2},
	} {
		if e.name != omit {
			exports = append(exports, export(e.name, e.kind, e.idx))
		}
	}

	counter := func(global byte) []byte {
		return body(
			opGlobalGet, global,
			opI32Const, 0x01,
			opI32Add,
			opGlobalSet, global,
		)
	}

	code := section(secCode, vec(
		// malloc: old := heap; heap += size; return old
		body(
			opGlobalGet, 0x00,
			opGlobalGet, 0x00,
			opLocalGet, 0x00,
			opI32Add,
			opGlobalSet, 0x00,
		),
		counter(0x01),
		// format
		body(cat(
			[]byte{opLocalGet, 0x00, opI32Load8U, 0x00, 0x00, opI32Const}, sleb('!'),
			[]byte{opI32Eq, opIf, blockEmpty, opI32Const, 0x00, opReturn, opEnd},
			[]byte{opLocalGet, 0x00, opI32Load8U, 0x00, 0x00, opI32Const}, sleb('#'),
			[]byte{opI32Eq, opIf, blockEmpty, opUnreachable, opEnd},
			[]byte{opLocalGet, 0x00},
		)...),
		counter(0x02),
	))

	return cat(
		[]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00},
		types, funcs, memory, globals,
		section(secExport, vec(exports...)),
		code,
	)
}

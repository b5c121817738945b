package wasm

import (
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/fmt-bridge/errors"
)

const (
	DefaultFormatExport     = "format"
	DefaultFreeStringExport = "free_string"

	CabiRealloc = "cabi_realloc"
	CabiFree    = "cabi_free"
)

// Allocator export names tried in order when none is configured.
// Emscripten prefixes C symbols with an underscore.
var (
	allocNames = []string{"malloc", "_malloc", "alloc", CabiRealloc}
	freeNames  = []string{"free", "_free", "dealloc", CabiFree}
)

// exportSet is the resolved guest ABI.
type exportSet struct {
	format     string
	freeString string
	alloc      string
	free       string // empty when frees go through cabi_realloc
	realloc    bool
	freeArity  int
}

func resolveExports(compiled wazero.CompiledModule, cfg Config) (exportSet, error) {
	defs := compiled.ExportedFunctions()

	set := exportSet{
		format:     cfg.FormatExport,
		freeString: cfg.FreeStringExport,
	}
	if set.format == "" {
		set.format = orDefault(pick(defs, "", []string{DefaultFormatExport, "_" + DefaultFormatExport}), DefaultFormatExport)
	}
	if set.freeString == "" {
		set.freeString = orDefault(pick(defs, "", []string{DefaultFreeStringExport, "_" + DefaultFreeStringExport}), DefaultFreeStringExport)
	}

	if err := checkSignature(defs, set.format, 1, 1); err != nil {
		return exportSet{}, err
	}
	if err := checkSignature(defs, set.freeString, 1, 0); err != nil {
		return exportSet{}, err
	}

	set.alloc = pick(defs, cfg.AllocExport, allocNames)
	if set.alloc == "" {
		return exportSet{}, errors.NotFound(errors.PhaseLoad, "allocator export", fmt.Sprint(allocNames))
	}
	set.realloc = set.alloc == CabiRealloc
	if set.realloc {
		if err := checkSignature(defs, set.alloc, 4, 1); err != nil {
			return exportSet{}, err
		}
	} else if err := checkSignature(defs, set.alloc, 1, 1); err != nil {
		return exportSet{}, err
	}

	set.free = pick(defs, cfg.FreeExport, freeNames)
	switch {
	case set.free != "":
		def := defs[set.free]
		set.freeArity = len(def.ParamTypes())
		if set.freeArity < 1 || set.freeArity > 3 || len(def.ResultTypes()) != 0 {
			return exportSet{}, errors.InvalidInput(errors.PhaseLoad,
				fmt.Sprintf("export %q: want (ptr [, size [, align]]) -> ()", set.free))
		}
	case set.realloc:
	default:
		return exportSet{}, errors.NotFound(errors.PhaseLoad, "deallocator export", fmt.Sprint(freeNames))
	}

	if len(compiled.ExportedMemories()) == 0 {
		return exportSet{}, errors.NotFound(errors.PhaseLoad, "memory export", "memory")
	}
	return set, nil
}

func pick(defs map[string]api.FunctionDefinition, configured string, candidates []string) string {
	if configured != "" {
		if _, ok := defs[configured]; ok {
			return configured
		}
		return ""
	}
	for _, name := range candidates {
		if _, ok := defs[name]; ok {
			return name
		}
	}
	return ""
}

func orDefault(name, def string) string {
	if name == "" {
		return def
	}
	return name
}

func checkSignature(defs map[string]api.FunctionDefinition, name string, params, results int) error {
	def, ok := defs[name]
	if !ok {
		return errors.NotFound(errors.PhaseLoad, "export", name)
	}
	if len(def.ParamTypes()) != params || len(def.ResultTypes()) != results {
		return errors.InvalidInput(errors.PhaseLoad,
			fmt.Sprintf("export %q: want %d params and %d results, have %d and %d",
				name, params, results, len(def.ParamTypes()), len(def.ResultTypes())))
	}
	for _, vt := range def.ParamTypes() {
		if vt != api.ValueTypeI32 {
			return errors.InvalidInput(errors.PhaseLoad,
				fmt.Sprintf("export %q: parameters must be i32 (wasm32)", name))
		}
	}
	return nil
}

// Package config loads fmt-bridge settings from TOML.
//
//	[engine]
//	kind = "wasm"
//	path = "rubyfmt.wasm"
//	pool_size = 4
//	memory_limit_pages = 1024
//	wasi = true
//	timeout = "5s"
//	dir = "."                 # command engines only
//	env = ["RUBYOPT=-W0"]     # command engines only
//
//	[engine.builtin]
//	nfc = true
//	tab_width = 0
//	max_blank_lines = 2
//
//	[boundary]
//	max_input_bytes = 16777216
//
//	[log]
//	level = "info"             # debug | info | warn | error | off
//	format = "console"
//
// Keys that are absent keep their defaults. Relative engine paths resolve
// against the directory of the config file.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/wippyai/fmt-bridge/errors"
)

// Engine kinds.
const (
	KindBuiltin = "builtin"
	KindWASM    = "wasm"
	KindLua     = "lua"
	KindCommand = "command"
)

// Config is the complete runtime configuration.
type Config struct {
	Log      Log
	Engine   Engine
	Boundary Boundary
}

// Engine selects and configures the formatting engine.
type Engine struct {
	Kind             string
	Path             string
	Function         string
	Args             []string
	Dir              string
	Env              []string
	Timeout          time.Duration
	PoolSize         int
	MemoryLimitPages uint32
	WASI             bool
	Builtin          Builtin
}

// Builtin configures the builtin normalizer.
type Builtin struct {
	NFC           bool
	TabWidth      int
	MaxBlankLines int
}

// Boundary configures the marshaller.
type Boundary struct {
	// MaxInputBytes bounds input C strings. 0 means no bound.
	MaxInputBytes uint32
}

// Log configures the zap logger.
type Log struct {
	Level  string
	Format string
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Engine: Engine{
			Kind: KindBuiltin,
			Builtin: Builtin{
				NFC:           true,
				MaxBlankLines: 2,
			},
		},
		Log: Log{
			Level:  "info",
			Format: "console",
		},
	}
}

// fileConfig mirrors the TOML layout.
type fileConfig struct {
	Engine struct {
		Kind             string   `toml:"kind"`
		Path             string   `toml:"path"`
		Function         string   `toml:"function"`
		Args             []string `toml:"args"`
		Dir              string   `toml:"dir"`
		Env              []string `toml:"env"`
		Timeout          string   `toml:"timeout"`
		PoolSize         int      `toml:"pool_size"`
		MemoryLimitPages uint32   `toml:"memory_limit_pages"`
		WASI             bool     `toml:"wasi"`
		Builtin          struct {
			NFC           bool `toml:"nfc"`
			TabWidth      int  `toml:"tab_width"`
			MaxBlankLines int  `toml:"max_blank_lines"`
		} `toml:"builtin"`
	} `toml:"engine"`
	Boundary struct {
		MaxInputBytes uint32 `toml:"max_input_bytes"`
	} `toml:"boundary"`
	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`
}

// Load reads a TOML file and overlays it on the defaults.
func Load(path string) (Config, error) {
	return LoadOver(Default(), path)
}

// LoadOver reads a TOML file and overlays it on base.
func LoadOver(base Config, path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "load "+path)
	}
	cfg, err := overlay(base, raw, meta)
	if err != nil {
		return Config{}, err
	}
	if cfg.Engine.Path != "" && !filepath.IsAbs(cfg.Engine.Path) && cfg.Engine.Kind != KindCommand {
		cfg.Engine.Path = filepath.Join(filepath.Dir(path), cfg.Engine.Path)
	}
	if cfg.Engine.Dir != "" && !filepath.IsAbs(cfg.Engine.Dir) {
		cfg.Engine.Dir = filepath.Join(filepath.Dir(path), cfg.Engine.Dir)
	}
	return cfg, nil
}

// Parse decodes TOML text and overlays it on the defaults.
func Parse(text string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(text, &raw)
	if err != nil {
		return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parse config")
	}
	return overlay(Default(), raw, meta)
}

func overlay(cfg Config, raw fileConfig, meta toml.MetaData) (Config, error) {
	cfg.Engine.Args = append([]string(nil), cfg.Engine.Args...)
	cfg.Engine.Env = append([]string(nil), cfg.Engine.Env...)

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, errors.InvalidInput(errors.PhaseConfig, "unknown keys: "+strings.Join(keys, ", "))
	}

	if meta.IsDefined("engine", "kind") {
		cfg.Engine.Kind = strings.ToLower(strings.TrimSpace(raw.Engine.Kind))
	}
	if meta.IsDefined("engine", "path") {
		cfg.Engine.Path = strings.TrimSpace(raw.Engine.Path)
	}
	if meta.IsDefined("engine", "function") {
		cfg.Engine.Function = strings.TrimSpace(raw.Engine.Function)
	}
	if meta.IsDefined("engine", "args") {
		cfg.Engine.Args = raw.Engine.Args
	}
	if meta.IsDefined("engine", "dir") {
		cfg.Engine.Dir = strings.TrimSpace(raw.Engine.Dir)
	}
	if meta.IsDefined("engine", "env") {
		cfg.Engine.Env = raw.Engine.Env
	}
	if meta.IsDefined("engine", "timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Engine.Timeout))
		if err != nil {
			return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "engine.timeout")
		}
		cfg.Engine.Timeout = d
	}
	if meta.IsDefined("engine", "pool_size") {
		cfg.Engine.PoolSize = raw.Engine.PoolSize
	}
	if meta.IsDefined("engine", "memory_limit_pages") {
		cfg.Engine.MemoryLimitPages = raw.Engine.MemoryLimitPages
	}
	if meta.IsDefined("engine", "wasi") {
		cfg.Engine.WASI = raw.Engine.WASI
	}
	if meta.IsDefined("engine", "builtin", "nfc") {
		cfg.Engine.Builtin.NFC = raw.Engine.Builtin.NFC
	}
	if meta.IsDefined("engine", "builtin", "tab_width") {
		cfg.Engine.Builtin.TabWidth = raw.Engine.Builtin.TabWidth
	}
	if meta.IsDefined("engine", "builtin", "max_blank_lines") {
		cfg.Engine.Builtin.MaxBlankLines = raw.Engine.Builtin.MaxBlankLines
	}
	if meta.IsDefined("boundary", "max_input_bytes") {
		cfg.Boundary.MaxInputBytes = raw.Boundary.MaxInputBytes
	}
	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "format") {
		cfg.Log.Format = strings.ToLower(strings.TrimSpace(raw.Log.Format))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field combinations that TOML decoding cannot.
func (c Config) Validate() error {
	switch c.Engine.Kind {
	case KindBuiltin:
	case KindWASM, KindLua, KindCommand:
		if c.Engine.Path == "" {
			return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("engine.path is required for %q engines", c.Engine.Kind))
		}
	default:
		return errors.Unsupported(errors.PhaseConfig, fmt.Sprintf("engine kind %q", c.Engine.Kind))
	}
	for _, kv := range c.Engine.Env {
		if !strings.Contains(kv, "=") {
			return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("engine.env entry %q: want KEY=VALUE", kv))
		}
	}
	if c.Engine.PoolSize < 0 {
		return errors.InvalidInput(errors.PhaseConfig, "engine.pool_size must not be negative")
	}
	if c.Engine.Timeout < 0 {
		return errors.InvalidInput(errors.PhaseConfig, "engine.timeout must not be negative")
	}
	if c.Engine.Builtin.TabWidth < 0 {
		return errors.InvalidInput(errors.PhaseConfig, "engine.builtin.tab_width must not be negative")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("log.format %q: want console or json", c.Log.Format))
	}
	return nil
}

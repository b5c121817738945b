// Command fmtbridge formats files through the fmt-bridge boundary.
//
//	fmtbridge [-config file] [-engine kind] [-path p] [-w] [-check] [-json] [-i] [-share code] [files...]
//
// Without files it reads stdin and writes stdout. -i opens an interactive
// playground that reformats as you type; its status bar shows a share code
// that -share reopens.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"golang.org/x/term"

	fmtbridge "github.com/wippyai/fmt-bridge"
	"github.com/wippyai/fmt-bridge/config"
)

const stdinName = "<stdin>"

var errUnformatted = stderrors.New("some inputs are not formatted")

type options struct {
	configPath  string
	engine      string
	path        string
	write       bool
	check       bool
	json        bool
	interactive bool
	share       string
	files       []string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to TOML config file")
	flag.StringVar(&opts.engine, "engine", "", "Engine kind (builtin, wasm, lua, command)")
	flag.StringVar(&opts.path, "path", "", "Engine module, script or executable")
	flag.BoolVar(&opts.write, "w", false, "Write result to source files")
	flag.BoolVar(&opts.check, "check", false, "List inputs that are not formatted and exit non-zero")
	flag.BoolVar(&opts.json, "json", false, "Print one JSON report per input")
	flag.BoolVar(&opts.interactive, "i", false, "Interactive playground")
	flag.StringVar(&opts.share, "share", "", "Open the playground with a share code")
	flag.Parse()
	opts.files = flag.Args()

	if len(opts.files) == 0 && !opts.interactive && opts.share == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr, "Usage: fmtbridge [-config file] [-engine kind] [-path p] [-w] [-check] [-json] [-i] [-share code] [files...]")
		fmt.Fprintln(os.Stderr, "       reads stdin when no files are given; refusing to read from a terminal")
		os.Exit(2)
	}

	ctx := context.Background()
	if err := run(ctx, opts, os.Stdin, os.Stdout, os.Stderr); err != nil {
		if err != errUnformatted {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// playgroundInput picks the text the playground starts with.
func playgroundInput(opts options) (string, error) {
	switch {
	case opts.share != "":
		return decodeShare(opts.share)
	case len(opts.files) > 0:
		data, err := os.ReadFile(opts.files[0])
		return string(data), err
	default:
		return defaultSample, nil
	}
}

func loadConfig(opts options) (config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return cfg, err
		}
	}
	if opts.engine != "" {
		cfg.Engine.Kind = opts.engine
	}
	if opts.path != "" {
		cfg.Engine.Path = opts.path
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, opts options, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()
	fmtbridge.SetLogger(logger)

	s, err := newSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.close(ctx); err != nil {
			logger.Warn("close engine", zap.Error(err))
		}
	}()

	if opts.interactive || opts.share != "" {
		initial, err := playgroundInput(opts)
		if err != nil {
			return err
		}
		return runInteractive(ctx, s, initial)
	}

	var failed, unformatted int
	process := func(name string, data []byte) error {
		r := result{name: name, engine: s.engine.Name(), input: string(data)}
		r.formatted, r.err = s.format(ctx, r.input)
		if err := s.checkLeaks(); err != nil {
			return err
		}
		if r.err != nil {
			failed++
		} else if r.changed() {
			unformatted++
			if opts.write && !opts.check && name != stdinName {
				if err := writeBack(name, r.formatted); err != nil {
					return err
				}
			}
		}
		return emit(opts, r, stdout, stderr)
	}

	if len(opts.files) == 0 {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return err
		}
		if err := process(stdinName, data); err != nil {
			return err
		}
	}
	for _, name := range opts.files {
		data, err := os.ReadFile(name)
		if err != nil {
			return err
		}
		if err := process(name, data); err != nil {
			return err
		}
	}

	switch {
	case failed > 0:
		return fmt.Errorf("%d of %d inputs failed to format", failed, max(len(opts.files), 1))
	case opts.check && unformatted > 0:
		return errUnformatted
	}
	return nil
}

// emit writes the outcome for one input according to the output mode.
func emit(opts options, r result, stdout, stderr io.Writer) error {
	if opts.json {
		line, err := r.report()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, line)
		return err
	}

	switch {
	case r.err != nil:
		fmt.Fprintf(stderr, "%s: %v\n", r.name, r.err)
	case opts.check:
		if r.changed() {
			_, err := fmt.Fprintln(stdout, r.name)
			return err
		}
	case opts.write && r.name != stdinName:
	default:
		_, err := io.WriteString(stdout, r.formatted)
		return err
	}
	return nil
}

func writeBack(name, text string) error {
	info, err := os.Stat(name)
	if err != nil {
		return err
	}
	return os.WriteFile(name, []byte(text), info.Mode().Perm())
}

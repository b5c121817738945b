// Package command wraps a formatter that runs as an external process, such
// as a formatter CLI reading source on stdin and writing the result to stdout.
package command

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	fmtbridge "github.com/wippyai/fmt-bridge"
	"github.com/wippyai/fmt-bridge/errors"
)

// Name identifies the engine in configuration and logs.
const Name = "command"

// maxStderr bounds how much of stderr is kept in an error.
const maxStderr = 4096

// Config holds configuration for a command engine.
type Config struct {
	Logger *zap.Logger
	Path   string
	Args   []string
	// Dir is the working directory. Empty means the caller's.
	Dir string
	// Env entries (KEY=VALUE) are added to the inherited environment.
	Env []string
}

// Engine runs one process per Format call.
type Engine struct {
	logger *zap.Logger
	path   string
	cfg    Config
}

// New resolves the executable.
func New(cfg Config) (*Engine, error) {
	if cfg.Path == "" {
		return nil, errors.InvalidInput(errors.PhaseLoad, "command engine needs an executable path")
	}
	path, err := exec.LookPath(cfg.Path)
	if err != nil {
		return nil, errors.Load("resolve executable", err)
	}
	l := cfg.Logger
	if l == nil {
		l = fmtbridge.Logger()
	}
	return &Engine{logger: l, path: path, cfg: cfg}, nil
}

func (e *Engine) Name() string { return Name }

func (e *Engine) Close(context.Context) error { return nil }

// Format pipes source through the process. A non-zero exit status is a
// formatting failure carrying the process's stderr.
func (e *Engine) Format(ctx context.Context, source string) (string, error) {
	cmd := exec.CommandContext(ctx, e.path, e.cfg.Args...)
	cmd.Dir = e.cfg.Dir
	if len(e.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), e.cfg.Env...)
	}
	cmd.Stdin = strings.NewReader(source)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > maxStderr {
			msg = msg[:maxStderr]
		}
		e.logger.Debug("formatter process failed",
			zap.String("path", e.path),
			zap.Error(err),
			zap.String("stderr", msg))
		if msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return "", errors.EngineFailed(Name, err)
	}
	return stdout.String(), nil
}

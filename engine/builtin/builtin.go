// Package builtin implements a formatter that needs no external engine.
//
// It normalizes layout only: line endings, Unicode composition, tabs,
// trailing whitespace and blank-line runs. Source containing control
// characters is rejected as unformattable. Formatting is idempotent.
package builtin

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/wippyai/fmt-bridge/errors"
)

// Name identifies the engine in configuration and logs.
const Name = "builtin"

// Config controls normalization.
type Config struct {
	// NFC recomposes text to Unicode Normalization Form C.
	NFC bool
	// TabWidth expands tabs to the next multiple of TabWidth columns.
	// 0 keeps tabs.
	TabWidth int
	// MaxBlankLines caps consecutive blank lines. Negative means no cap.
	MaxBlankLines int
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		NFC:           true,
		MaxBlankLines: 2,
	}
}

// Engine is the builtin normalizer. It holds no mutable state.
type Engine struct {
	cfg Config
}

// New creates a builtin engine.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

func (e *Engine) Name() string { return Name }

func (e *Engine) Close(context.Context) error { return nil }

// Format normalizes source.
func (e *Engine) Format(ctx context.Context, source string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.EngineFailed(Name, err)
	}
	if err := checkControl(source); err != nil {
		return "", errors.EngineFailed(Name, err)
	}

	text := strings.ReplaceAll(source, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	if e.cfg.NFC {
		text = norm.NFC.String(text)
	}

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		if e.cfg.TabWidth > 0 {
			line = expandTabs(line, e.cfg.TabWidth)
		}
		line = strings.TrimRightFunc(line, unicode.IsSpace)

		if line == "" {
			blank++
			continue
		}
		if len(out) > 0 {
			n := blank
			if e.cfg.MaxBlankLines >= 0 && n > e.cfg.MaxBlankLines {
				n = e.cfg.MaxBlankLines
			}
			for ; n > 0; n-- {
				out = append(out, "")
			}
		}
		blank = 0
		out = append(out, line)
	}

	if len(out) == 0 {
		return "", nil
	}
	return strings.Join(out, "\n") + "\n", nil
}

func checkControl(source string) error {
	line, col := 1, 1
	for _, r := range source {
		switch {
		case r == '\n':
			line++
			col = 1
			continue
		case r == '\t' || r == '\r' || r == '\f':
		case r < 0x20 || r == 0x7f:
			return fmt.Errorf("%d:%d: unexpected control character %U", line, col, r)
		}
		col++
	}
	return nil
}

func expandTabs(line string, width int) string {
	if !strings.ContainsRune(line, '\t') {
		return line
	}
	var b strings.Builder
	col := 0
	for _, r := range line {
		if r == '\t' {
			pad := width - col%width
			b.WriteString(strings.Repeat(" ", pad))
			col += pad
			continue
		}
		b.WriteRune(r)
		col++
	}
	return b.String()
}

package main

import (
	"github.com/tidwall/sjson"

	"github.com/wippyai/fmt-bridge/errors"
)

// result is the outcome for one input.
type result struct {
	name      string
	engine    string
	input     string
	formatted string
	err       error
}

func (r result) changed() bool {
	return r.err == nil && r.input != r.formatted
}

// report renders r as a single-line JSON object.
func (r result) report() (string, error) {
	js := `{}`
	var err error
	set := func(path string, v any) {
		if err == nil {
			js, err = sjson.Set(js, path, v)
		}
	}

	set("input", r.name)
	set("engine", r.engine)
	set("ok", r.err == nil)
	set("changed", r.changed())
	set("bytes_in", len(r.input))
	if r.err == nil {
		set("bytes_out", len(r.formatted))
		return js, err
	}

	set("error.message", r.err.Error())
	if e, ok := errors.As(r.err); ok {
		set("error.phase", string(e.Phase))
		set("error.kind", string(e.Kind))
	}
	return js, err
}

package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/fmt-bridge/boundary"
	"github.com/wippyai/fmt-bridge/config"
	"github.com/wippyai/fmt-bridge/engine"
	"github.com/wippyai/fmt-bridge/heap"
)

// session formats text through the same C-string protocol foreign callers
// use: the input is encoded into an arena, handed to the marshaller, and the
// result is decoded and released.
type session struct {
	arena  *heap.Arena
	m      *boundary.Marshaller
	engine engine.Engine
}

func newSession(ctx context.Context, cfg config.Config, logger *zap.Logger) (*session, error) {
	e, err := engine.Open(ctx, cfg.Engine, logger)
	if err != nil {
		return nil, err
	}
	arena := heap.New(heap.WithLogger(logger))
	return &session{
		arena: arena,
		m: boundary.New(arena, arena, e,
			boundary.WithLogger(logger),
			boundary.WithMaxInputBytes(cfg.Boundary.MaxInputBytes),
		),
		engine: e,
	}, nil
}

func (s *session) format(ctx context.Context, text string) (string, error) {
	in, err := boundary.EncodeCString(s.arena, s.arena, text)
	if err != nil {
		return "", err
	}
	defer s.arena.Free(in)

	out, err := s.m.FormatErr(ctx, in)
	if err != nil {
		return "", err
	}
	defer s.m.Free(out)

	return boundary.DecodeCString(s.arena, out, boundary.NoLimit)
}

// checkLeaks reports allocations that outlived their call.
func (s *session) checkLeaks() error {
	if n := s.arena.Live(); n != 0 {
		return fmt.Errorf("%d boundary allocations still live", n)
	}
	return nil
}

func (s *session) close(ctx context.Context) error {
	return s.engine.Close(ctx)
}

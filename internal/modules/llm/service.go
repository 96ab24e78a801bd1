package llm

import (
	"context"

	"go.uber.org/zap"
)

// Service orders provider adapters into a fallback chain. The first available
// adapter handles every call; on failure the first *different* available
// adapter gets exactly one attempt, and if that also fails the primary error
// is what callers see.
type Service struct {
	adapters []Adapter
	log      *zap.Logger
}

func NewService(log *zap.Logger, adapters ...Adapter) *Service {
	return &Service{adapters: adapters, log: log}
}

// Available reports whether any adapter in the chain is configured.
func (s *Service) Available() bool {
	return s.primary() != nil
}

// Providers lists the configured provider names in chain order.
func (s *Service) Providers() []string {
	var names []string
	for _, a := range s.adapters {
		if a.Available() {
			names = append(names, a.Provider())
		}
	}
	return names
}

func (s *Service) primary() Adapter {
	for _, a := range s.adapters {
		if a.Available() {
			return a
		}
	}
	return nil
}

func (s *Service) fallbackFor(primary Adapter) Adapter {
	for _, a := range s.adapters {
		if a.Available() && a.Provider() != primary.Provider() {
			return a
		}
	}
	return nil
}

// Summarize runs the fallback chain for one blocking call.
func (s *Service) Summarize(ctx context.Context, text string) (*Response, error) {
	primary := s.primary()
	if primary == nil {
		return nil, ErrNoProviderAvailable
	}

	resp, primaryErr := primary.Summarize(ctx, text)
	if primaryErr == nil {
		return resp, nil
	}
	s.log.Warn("provider call failed, trying fallback",
		zap.String("provider", primary.Provider()), zap.Error(primaryErr))

	fallback := s.fallbackFor(primary)
	if fallback == nil {
		return nil, primaryErr
	}

	resp, err := fallback.Summarize(ctx, text)
	if err != nil {
		s.log.Warn("fallback provider also failed",
			zap.String("provider", fallback.Provider()), zap.Error(err))
		return nil, primaryErr
	}
	return resp, nil
}

// SummarizeStream opens a stream with failover. A failure before the first
// chunk switches to the fallback transparently; a failure mid-stream restarts
// on the fallback from the beginning, with no retraction of chunks already
// delivered. Every chunk carries the provider that produced it.
func (s *Service) SummarizeStream(ctx context.Context, text string) (Stream, error) {
	primary := s.primary()
	if primary == nil {
		return nil, ErrNoProviderAvailable
	}

	fs := &failoverStream{
		svc:     s,
		ctx:     ctx,
		text:    text,
		current: primary,
	}

	stream, err := primary.SummarizeStream(ctx, text)
	if err != nil {
		s.log.Warn("provider stream open failed, trying fallback",
			zap.String("provider", primary.Provider()), zap.Error(err))
		fallback := s.fallbackFor(primary)
		if fallback == nil {
			return nil, err
		}
		stream, err = fallback.SummarizeStream(ctx, text)
		if err != nil {
			return nil, err
		}
		fs.current = fallback
		fs.switched = true
	}

	fs.stream = stream
	return fs, nil
}

// failoverStream wraps an adapter stream and swaps in the fallback adapter on
// the first error, once.
type failoverStream struct {
	svc      *Service
	ctx      context.Context
	text     string
	current  Adapter
	stream   Stream
	switched bool
	closed   bool
}

func (f *failoverStream) Recv() (Chunk, error) {
	chunk, err := f.stream.Recv()
	if err == nil {
		return chunk, nil
	}
	if f.switched || f.ctx.Err() != nil {
		return Chunk{}, err
	}

	f.svc.log.Warn("provider stream failed, switching to fallback",
		zap.String("provider", f.current.Provider()), zap.Error(err))

	fallback := f.svc.fallbackFor(f.current)
	if fallback == nil {
		return Chunk{}, err
	}

	f.stream.Close()
	next, openErr := fallback.SummarizeStream(f.ctx, f.text)
	if openErr != nil {
		f.svc.log.Warn("fallback stream open failed",
			zap.String("provider", fallback.Provider()), zap.Error(openErr))
		return Chunk{}, err
	}

	f.current = fallback
	f.stream = next
	f.switched = true
	return f.stream.Recv()
}

func (f *failoverStream) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	return f.stream.Close()
}

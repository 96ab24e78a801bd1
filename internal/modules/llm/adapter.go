package llm

import (
	"context"
	"errors"
)

// Provider identifiers as persisted on request records and analytics rows.
const (
	ProviderGemini  = "gemini"
	ProviderOpenAI  = "openai"
	ProviderUnknown = "unknown"
)

var (
	// ErrNoProviderAvailable means no adapter in the chain is configured.
	ErrNoProviderAvailable = errors.New("no LLM provider available")
	// ErrEmptyResponse means the provider returned no usable text.
	ErrEmptyResponse = errors.New("empty response from LLM")
)

// Response is one completed summarization call.
type Response struct {
	Text         string
	TokensInput  int
	TokensOutput int
	Model        string
	Provider     string
}

// Chunk is one streamed fragment. Done marks the terminal chunk; a terminal
// chunk may carry trailing text.
type Chunk struct {
	Text     string
	Done     bool
	Provider string
}

// Stream is a pull-based token stream. Recv blocks for the next chunk; after
// a Done chunk or an error the stream is exhausted. Close releases the
// underlying call and is safe to call at any time.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Adapter is the uniform surface over one LLM provider.
type Adapter interface {
	// Available reports whether the adapter is configured for use.
	Available() bool
	Summarize(ctx context.Context, text string) (*Response, error)
	SummarizeStream(ctx context.Context, text string) (Stream, error)
	Provider() string
}

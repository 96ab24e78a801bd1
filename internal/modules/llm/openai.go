package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openaiclient "github.com/openai/openai-go/v2"
	openaioption "github.com/openai/openai-go/v2/option"
	jetai "go.jetify.com/ai"
	jetapi "go.jetify.com/ai/api"
	jetopenai "go.jetify.com/ai/provider/openai"

	"github.com/gistly/core/internal/config"
)

// OpenAIAdapter drives OpenAI through the jetify language-model abstraction
// over the official SDK client.
type OpenAIAdapter struct {
	apiKey string
	model  string
	lm     jetapi.LanguageModel
}

func NewOpenAIAdapter(cfg config.ProviderConfig) *OpenAIAdapter {
	a := &OpenAIAdapter{
		apiKey: strings.TrimSpace(cfg.APIKey),
		model:  strings.TrimSpace(cfg.Model),
	}
	if a.apiKey == "" {
		return a
	}

	opts := []openaioption.RequestOption{
		openaioption.WithAPIKey(a.apiKey),
		openaioption.WithMaxRetries(0),
	}
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		opts = append(opts, openaioption.WithBaseURL(strings.TrimRight(endpoint, "/")))
	}

	client := openaiclient.NewClient(opts...)
	a.lm = jetopenai.NewLanguageModel(a.model, jetopenai.WithClient(client))
	return a
}

func (a *OpenAIAdapter) Provider() string { return ProviderOpenAI }

func (a *OpenAIAdapter) Available() bool { return a.apiKey != "" && a.lm != nil }

func promptMessages(text string) []jetapi.Message {
	return []jetapi.Message{
		&jetapi.SystemMessage{Content: summarySystemPrompt},
		&jetapi.UserMessage{Content: jetapi.ContentFromText(summaryPrompt(text))},
	}
}

// Summarize runs one blocking completion call.
func (a *OpenAIAdapter) Summarize(ctx context.Context, text string) (*Response, error) {
	if !a.Available() {
		return nil, ErrNoProviderAvailable
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeoutSeconds*time.Second)
	defer cancel()

	resp, err := jetai.GenerateText(
		ctx,
		promptMessages(text),
		jetai.WithModel(a.lm),
		jetai.WithMaxOutputTokens(summaryMaxOutputTokens),
	)
	if err != nil {
		return nil, fmt.Errorf("openai request: %w", err)
	}

	summary, err := textFromResponse(resp)
	if err != nil {
		return nil, err
	}
	return &Response{
		Text:         summary,
		TokensInput:  EstimateTokens(text),
		TokensOutput: EstimateTokens(summary),
		Model:        a.model,
		Provider:     ProviderOpenAI,
	}, nil
}

// SummarizeStream opens a streaming completion call.
func (a *OpenAIAdapter) SummarizeStream(ctx context.Context, text string) (Stream, error) {
	if !a.Available() {
		return nil, ErrNoProviderAvailable
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeoutSeconds*time.Second)

	resp, err := jetai.StreamText(
		ctx,
		promptMessages(text),
		jetai.WithModel(a.lm),
		jetai.WithMaxOutputTokens(summaryMaxOutputTokens),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("openai stream request: %w", err)
	}

	out := make(chan streamItem)
	go func() {
		defer close(out)
		for event := range resp.Stream {
			switch evt := event.(type) {
			case *jetapi.TextDeltaEvent:
				if evt.TextDelta == "" {
					continue
				}
				select {
				case out <- streamItem{text: evt.TextDelta}:
				case <-ctx.Done():
					return
				}
			case *jetapi.ErrorEvent:
				err := fmt.Errorf("openai stream: %v", evt.Err)
				if evt.Err == nil {
					err = errors.New("openai stream returned an unknown error")
				}
				select {
				case out <- streamItem{err: err}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()

	return &channelStream{
		provider: ProviderOpenAI,
		items:    out,
		cancel:   cancel,
	}, nil
}

func textFromResponse(resp *jetapi.Response) (string, error) {
	if resp == nil {
		return "", ErrEmptyResponse
	}
	var full strings.Builder
	for _, block := range resp.Content {
		textBlock, ok := block.(*jetapi.TextBlock)
		if !ok || textBlock.Text == "" {
			continue
		}
		full.WriteString(textBlock.Text)
	}
	text := full.String()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

type streamItem struct {
	text string
	err  error
}

// channelStream adapts a push-style event stream into the pull Stream surface.
type channelStream struct {
	provider string
	items    <-chan streamItem
	cancel   context.CancelFunc
}

func (s *channelStream) Recv() (Chunk, error) {
	item, ok := <-s.items
	if !ok {
		return Chunk{Done: true, Provider: s.provider}, nil
	}
	if item.err != nil {
		return Chunk{}, item.err
	}
	return Chunk{Text: item.text, Provider: s.provider}, nil
}

func (s *channelStream) Close() error {
	s.cancel()
	return nil
}

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gistly/core/internal/config"
)

// GeminiAdapter talks to Gemini through its OpenAI-compatible chat-completions
// surface. Requests and SSE frames are handled directly so the adapter owns
// cancellation and usage extraction.
type GeminiAdapter struct {
	apiKey   string
	endpoint string
	model    string
	client   *http.Client
}

func NewGeminiAdapter(cfg config.ProviderConfig) *GeminiAdapter {
	return &GeminiAdapter{
		apiKey:   strings.TrimSpace(cfg.APIKey),
		endpoint: strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"),
		model:    strings.TrimSpace(cfg.Model),
		client:   &http.Client{Timeout: callTimeoutSeconds * time.Second},
	}
}

func (a *GeminiAdapter) Provider() string { return ProviderGemini }

func (a *GeminiAdapter) Available() bool { return a.apiKey != "" }

type compatRequest struct {
	Model     string          `json:"model"`
	Messages  []compatMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
	Stream    bool            `json:"stream,omitempty"`
}

type compatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type compatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

func (a *GeminiAdapter) newRequest(ctx context.Context, text string, stream bool) (*http.Request, error) {
	body, err := json.Marshal(compatRequest{
		Model: a.model,
		Messages: []compatMessage{
			{Role: "system", Content: summarySystemPrompt},
			{Role: "user", Content: summaryPrompt(text)},
		},
		MaxTokens: summaryMaxOutputTokens,
		Stream:    stream,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	return req, nil
}

// Summarize runs one blocking completion call.
func (a *GeminiAdapter) Summarize(ctx context.Context, text string) (*Response, error) {
	if !a.Available() {
		return nil, ErrNoProviderAvailable
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeoutSeconds*time.Second)
	defer cancel()

	req, err := a.newRequest(ctx, text, false)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gemini response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("gemini error (%d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage *compatUsage `json:"usage"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("gemini response decode: %w", err)
	}
	if result.Error != nil && strings.TrimSpace(result.Error.Message) != "" {
		return nil, fmt.Errorf("gemini error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 || strings.TrimSpace(result.Choices[0].Message.Content) == "" {
		return nil, ErrEmptyResponse
	}

	summary := result.Choices[0].Message.Content
	out := &Response{
		Text:         summary,
		TokensInput:  EstimateTokens(text),
		TokensOutput: EstimateTokens(summary),
		Model:        a.model,
		Provider:     ProviderGemini,
	}
	if result.Usage != nil && result.Usage.PromptTokens > 0 {
		out.TokensInput = result.Usage.PromptTokens
		out.TokensOutput = result.Usage.CompletionTokens
	}
	return out, nil
}

// SummarizeStream opens a streaming completion call.
func (a *GeminiAdapter) SummarizeStream(ctx context.Context, text string) (Stream, error) {
	if !a.Available() {
		return nil, ErrNoProviderAvailable
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeoutSeconds*time.Second)

	req, err := a.newRequest(ctx, text, true)
	if err != nil {
		cancel()
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("gemini stream request: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("gemini stream error (%d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	return &sseStream{
		provider: ProviderGemini,
		body:     resp.Body,
		cancel:   cancel,
		buf:      make([]byte, 4096),
	}, nil
}

// sseStream pulls chat-completion delta frames off an SSE body.
type sseStream struct {
	provider  string
	body      io.ReadCloser
	cancel    context.CancelFunc
	buf       []byte
	remainder string
	queue     []string // decoded tokens not yet delivered
	done      bool
}

func (s *sseStream) Recv() (Chunk, error) {
	for {
		if len(s.queue) > 0 {
			token := s.queue[0]
			s.queue = s.queue[1:]
			return Chunk{Text: token, Provider: s.provider}, nil
		}
		if s.done {
			return Chunk{Done: true, Provider: s.provider}, nil
		}

		n, readErr := s.body.Read(s.buf)
		if n > 0 {
			chunk := s.remainder + string(s.buf[:n])
			s.remainder = ""
			lines := splitLines(chunk)
			for i, line := range lines {
				if i == len(lines)-1 && readErr == nil {
					s.remainder = line
					continue
				}
				line = strings.TrimSpace(line)
				if !strings.HasPrefix(line, "data:") {
					continue
				}
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if data == "" {
					continue
				}
				if data == "[DONE]" {
					s.done = true
					break
				}

				var event struct {
					Choices []struct {
						Delta struct {
							Content string `json:"content"`
						} `json:"delta"`
					} `json:"choices"`
				}
				if err := json.Unmarshal([]byte(data), &event); err != nil {
					continue
				}
				if len(event.Choices) == 0 || event.Choices[0].Delta.Content == "" {
					continue
				}
				s.queue = append(s.queue, event.Choices[0].Delta.Content)
			}
		}

		if readErr == io.EOF {
			s.done = true
			continue
		}
		if readErr != nil {
			if errors.Is(readErr, context.Canceled) {
				return Chunk{}, readErr
			}
			return Chunk{}, fmt.Errorf("gemini stream read: %w", readErr)
		}
	}
}

func (s *sseStream) Close() error {
	s.cancel()
	return s.body.Close()
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	return append(lines, s[start:])
}

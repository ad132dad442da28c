package llm

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"time"

	genai "google.golang.org/genai"
)

// ErrInvalidJSON is returned when the model reply is empty or not JSON.
var ErrInvalidJSON = errors.New("llm: invalid JSON from model")

const defaultModel = "gemini-2.0-flash"

// Client generates JSON replies from a prompt. Stages depend on this
// interface so they can run against deterministic stand-ins in tests.
type Client interface {
	GenerateJSON(ctx context.Context, prompt string) (json.RawMessage, error)
	Name() string
}

// GeminiClient is a thin wrapper around the official genai client.
type GeminiClient struct {
	cli   *genai.Client
	model string
}

// NewGeminiClient builds a Gemini-backed client. The model defaults to
// GEMINI_MODEL or a flash model; the API key comes from the environment
// as the genai SDK expects.
func NewGeminiClient(ctx context.Context) (*GeminiClient, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	model := os.Getenv("GEMINI_MODEL")
	if model == "" {
		model = defaultModel
	}
	return &GeminiClient{cli: cli, model: model}, nil
}

func (g *GeminiClient) Name() string { return "Gemini:" + g.model }

// GenerateJSON sends the prompt and requests application/json output.
// Transient failures are retried with backoff before giving up.
func (g *GeminiClient) GenerateJSON(ctx context.Context, prompt string) (json.RawMessage, error) {
	log.Printf(`{"level":"info","message":"LLM request","model":"%s","prompt_bytes":%d}`, g.model, len(prompt))

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		resp, err := g.cli.Models.GenerateContent(ctx, g.model,
			[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}},
			&genai.GenerateContentConfig{ResponseMIMEType: "application/json"},
		)
		if err != nil {
			lastErr = err
		} else if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
			lastErr = ErrInvalidJSON
		} else {
			return json.RawMessage(resp.Candidates[0].Content.Parts[0].Text), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(300*(1<<attempt)) * time.Millisecond):
		}
	}
	return nil, lastErr
}

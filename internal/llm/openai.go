package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAI-compatible chat completion backend.
type OpenAIConfig struct {
	BaseURL                  string
	APIKey                   string
	Model                    string
	DeterministicTemperature float32
	CreativeTemperature      float32
	Timeout                  time.Duration
}

// OpenAIGenerator calls any OpenAI-compatible chat completions endpoint.
type OpenAIGenerator struct {
	client *openai.Client
	cfg    OpenAIConfig
	logger *slog.Logger
}

// NewOpenAI creates a generator for cfg.
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) *OpenAIGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	occ := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		occ.BaseURL = cfg.BaseURL
	}
	occ.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &OpenAIGenerator{client: openai.NewClientWithConfig(occ), cfg: cfg, logger: logger}
}

func (g *OpenAIGenerator) temperature(m Mode) float32 {
	t := g.cfg.DeterministicTemperature
	if m == Creative {
		t = g.cfg.CreativeTemperature
	}
	if t == 0 {
		// A zero temperature is dropped from the request body by omitempty.
		return math.SmallestNonzeroFloat32
	}
	return t
}

// Generate implements Generator.
func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	resp, err := g.generate(ctx, req)
	generatorCalls.WithLabelValues("openai", req.Task, outcome(err)).Inc()
	generatorLatency.WithLabelValues("openai", req.Task).Observe(time.Since(start).Seconds())
	return resp, err
}

func (g *OpenAIGenerator) generate(ctx context.Context, req Request) (Response, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	creq := openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		Messages:    msgs,
		Temperature: g.temperature(req.Mode),
	}
	if req.JSON {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	out, err := g.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return Response{}, classifyOpenAIError(err)
	}
	if len(out.Choices) == 0 {
		return Response{}, fmt.Errorf("%w: empty choices from %s", ErrParse, g.cfg.Model)
	}

	content := out.Choices[0].Message.Content
	if req.JSON {
		content, err = NormalizeJSON(content)
		if err != nil {
			g.logger.Debug("Generator returned non-JSON output", "task", req.Task, "model", g.cfg.Model)
			return Response{}, err
		}
	}
	return Response{Content: content, Model: out.Model}, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return fmt.Errorf("chat completion: %w", err)
}

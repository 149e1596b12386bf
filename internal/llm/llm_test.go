package llm_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/goally/internal/llm"
	"github.com/ashureev/goally/internal/llm/llmtest"
)

func TestWithFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		primaryErr    error
		wantSecondary bool
		wantErr       bool
	}{
		{"primary ok", nil, false, false},
		{"rate limited falls back", fmt.Errorf("upstream: %w", llm.ErrRateLimited), true, false},
		{"parse error falls back", llm.ErrParse, true, false},
		{"other error surfaces", errors.New("connection refused"), false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			primary := llmtest.New()
			if tt.primaryErr != nil {
				primary.Fail("x", tt.primaryErr)
			} else {
				primary.Text("x", "from primary")
			}
			secondary := llmtest.New().Text("x", "from secondary")

			resp, err := llm.WithFallback(primary, secondary).Generate(context.Background(), llm.Request{Task: "x"})
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, 0, secondary.CallCount(""))
				return
			}
			require.NoError(t, err)
			if tt.wantSecondary {
				assert.Equal(t, "from secondary", resp.Content)
				assert.Equal(t, 1, secondary.CallCount("x"))
			} else {
				assert.Equal(t, "from primary", resp.Content)
				assert.Equal(t, 0, secondary.CallCount(""))
			}
		})
	}
}

func TestWithFallbackRetriesOnlyOnce(t *testing.T) {
	t.Parallel()

	primary := llmtest.New().Fail("x", llm.ErrRateLimited)
	secondary := llmtest.New().Fail("x", llm.ErrRateLimited)

	_, err := llm.WithFallback(primary, secondary).Generate(context.Background(), llm.Request{Task: "x"})
	require.ErrorIs(t, err, llm.ErrRateLimited)
	assert.Equal(t, 1, primary.CallCount(""))
	assert.Equal(t, 1, secondary.CallCount(""))
}

func TestWithFallbackNilSecondary(t *testing.T) {
	t.Parallel()

	primary := llmtest.New().Text("x", "ok")
	assert.Same(t, primary, llm.WithFallback(primary, nil))
}

func TestGenerateJSONParseFallback(t *testing.T) {
	t.Parallel()

	primary := llmtest.New().Text("classify", "I think it is casual")
	secondary := llmtest.New().Text("classify", "```json\n{\"intent\": \"casual\", // guess\n \"confidence\": 0.9,}\n```")

	var out struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}
	err := llm.GenerateJSON(context.Background(), llm.WithFallback(primary, secondary), llm.Request{Task: "classify"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "casual", out.Intent)
	assert.InDelta(t, 0.9, out.Confidence, 1e-9)
	assert.True(t, primary.Calls()[0].JSON, "GenerateJSON must request JSON mode")
}

func TestGenerateJSONSchemaMismatchFallsBack(t *testing.T) {
	t.Parallel()

	// Well-formed JSON whose fields have the wrong types.
	primary := llmtest.New().Text("classify", `{"intent":5,"confidence":"high"}`)
	secondary := llmtest.New().Text("classify", `{"intent":"planning","confidence":0.8}`)

	var out struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}
	err := llm.GenerateJSON(context.Background(), llm.WithFallback(primary, secondary), llm.Request{Task: "classify"}, &out)
	require.NoError(t, err)
	assert.Equal(t, 1, secondary.CallCount("classify"))
	assert.Equal(t, "planning", out.Intent)
	assert.InDelta(t, 0.8, out.Confidence, 1e-9)

	// Without a fallback the mismatch surfaces as a parse error.
	err = llm.GenerateJSON(context.Background(), llmtest.New().Text("classify", `{"intent":5}`), llm.Request{Task: "classify"}, &out)
	require.ErrorIs(t, err, llm.ErrParse)
}

func TestExtractJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"Sure!\n```json\n{\"a\": \"http://x\"}\n```", `{"a": "http://x"}`},
		{`{"a": [1, 2,],}`, `{"a": [1, 2]}`},
		{"no json here", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, llm.ExtractJSON(tt.in), "input %q", tt.in)
	}
}

func TestWithRateLimit(t *testing.T) {
	t.Parallel()

	inner := llmtest.New().Text("x", "ok")
	g := llm.WithRateLimit(inner, 1, 1)

	_, err := g.Generate(context.Background(), llm.Request{Task: "x"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = g.Generate(ctx, llm.Request{Task: "x"})
	require.Error(t, err, "second call inside the same second should wait past the deadline")
	assert.Equal(t, 1, inner.CallCount("x"))

	assert.Same(t, inner, llm.WithRateLimit(inner, 0, 0))
}

func chatCompletionBody(content string) string {
	return fmt.Sprintf(`{"id":"c1","object":"chat.completion","model":"test-model","choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}]}`, content)
}

func TestOpenAIGenerator(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		switch n {
		case 1:
			_, _ = fmt.Fprint(w, chatCompletionBody(`{"intent":"planning"}`))
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit_error"}}`)
		default:
			_, _ = fmt.Fprint(w, chatCompletionBody("not json at all"))
		}
	}))
	t.Cleanup(srv.Close)

	g := llm.NewOpenAI(llm.OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "test", Model: "test-model"}, nil)
	ctx := context.Background()

	resp, err := g.Generate(ctx, llm.Request{Task: "t", JSON: true, Messages: []llm.Message{llm.User("hi")}})
	require.NoError(t, err)
	assert.Equal(t, `{"intent":"planning"}`, resp.Content)

	_, err = g.Generate(ctx, llm.Request{Task: "t", Messages: []llm.Message{llm.User("hi")}})
	require.ErrorIs(t, err, llm.ErrRateLimited)

	_, err = g.Generate(ctx, llm.Request{Task: "t", JSON: true, Messages: []llm.Message{llm.User("hi")}})
	require.ErrorIs(t, err, llm.ErrParse)
}

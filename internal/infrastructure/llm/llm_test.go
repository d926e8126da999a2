package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"

	"github.com/blackswanwtf/blackswan-analysis-service/internal/config"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/domain"
)

func aiConfig(endpoint string) config.AIConfig {
	return config.AIConfig{
		Provider:     config.ProviderOpenAI,
		Endpoint:     endpoint,
		Model:        "gpt-test",
		APIKey:       "sk-test",
		SystemPrompt: "be terse",
		Temperature:  0.3,
		MaxTokens:    2000,
		Timeout:      time.Second,
	}
}

func TestChatGPTAnalyze(t *testing.T) {
	t.Parallel()

	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"score\":1}"}}]}`))
	}))
	defer srv.Close()

	text, err := NewChatGPTClient(aiConfig(srv.URL)).Analyze(context.Background(), "assess risk")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if text != `{"score":1}` {
		t.Fatalf("unexpected text %q", text)
	}
	if got.Model != "gpt-test" || got.Temperature != 0.3 || got.MaxTokens != 2000 {
		t.Fatalf("unexpected request %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[1].Content != "assess risk" || got.Messages[1].Role != "user" {
		t.Fatalf("unexpected messages %+v", got.Messages)
	}
}

func TestChatGPTMissingKeyFailsWithoutNetwork(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	cfg := aiConfig(srv.URL)
	cfg.APIKey = ""
	_, err := NewChatGPTClient(cfg).Analyze(context.Background(), "x")
	if !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no request, got %d", calls.Load())
	}
}

func TestChatGPTFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"http error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		}},
		{"no choices", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[]}`))
		}},
		{"empty content", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  "}}]}`))
		}},
		{"garbage", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>`))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			_, err := NewChatGPTClient(aiConfig(srv.URL)).Analyze(context.Background(), "x")
			if !errors.Is(err, domain.ErrUpstream) {
				t.Fatalf("expected upstream error, got %v", err)
			}
		})
	}
}

func TestChatGPTTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := aiConfig(srv.URL)
	cfg.Timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := NewChatGPTClient(cfg).Analyze(context.Background(), "x")
	if !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("timeout not enforced")
	}
}

func TestGeminiMissingKey(t *testing.T) {
	t.Parallel()

	cfg := aiConfig("")
	cfg.Provider = config.ProviderGemini
	cfg.APIKey = ""
	c := NewGeminiClient(cfg)
	if _, err := c.Analyze(context.Background(), "x"); !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close without client: %v", err)
	}
}

func TestExtractTextFromResponse(t *testing.T) {
	t.Parallel()

	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []genai.Part{genai.Text("{\"a\":"), genai.Text("1}")}},
	}}}
	text, err := extractTextFromResponse(resp)
	if err != nil || text != `{"a":1}` {
		t.Fatalf("unexpected %q, %v", text, err)
	}

	if _, err := extractTextFromResponse(&genai.GenerateContentResponse{}); err == nil {
		t.Fatalf("expected error for empty response")
	}
}

func TestNewClientSelectsProvider(t *testing.T) {
	t.Parallel()

	cfg := aiConfig("http://localhost")
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("openai: %v", err)
	}
	if _, ok := c.(*ChatGPTClient); !ok {
		t.Fatalf("expected ChatGPTClient, got %T", c)
	}

	cfg.Provider = config.ProviderGemini
	c, err = NewClient(cfg)
	if err != nil {
		t.Fatalf("gemini: %v", err)
	}
	if c.Model() != "gpt-test" {
		t.Fatalf("unexpected model %q", c.Model())
	}

	cfg.Provider = "other"
	if _, err := NewClient(cfg); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/blackswanwtf/blackswan-analysis-service/internal/config"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/domain"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/ports"
)

const defaultTimeout = 2 * time.Minute

// ChatGPTClient implements ports.AnalysisClient backed by OpenAI-compatible APIs.
type ChatGPTClient struct {
	endpoint     string
	model        string
	apiKey       string
	systemPrompt string
	temperature  float64
	maxTokens    int
	timeout      time.Duration
	httpClient   *http.Client
}

var _ ports.AnalysisClient = (*ChatGPTClient)(nil)

// NewChatGPTClient builds a client from configuration.
func NewChatGPTClient(cfg config.AIConfig) *ChatGPTClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &ChatGPTClient{
		endpoint:     cfg.Endpoint,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		systemPrompt: cfg.SystemPrompt,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		timeout:      timeout,
		httpClient:   &http.Client{},
	}
}

// Model reports the configured model identifier.
func (c *ChatGPTClient) Model() string {
	return c.model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Analyze sends the prompt as a single user message and returns the first
// choice's text. It makes exactly one request.
func (c *ChatGPTClient) Analyze(ctx context.Context, prompt string) (string, error) {
	if c == nil {
		return "", domain.Errorf(domain.ErrUpstream, "chatgpt client is nil")
	}
	if c.apiKey == "" {
		return "", domain.Errorf(domain.ErrUpstream, "AI API key not configured")
	}
	if c.endpoint == "" || c.model == "" {
		return "", domain.Errorf(domain.ErrUpstream, "chatgpt client misconfigured")
	}

	messages := make([]chatMessage, 0, 2)
	if sp := strings.TrimSpace(c.systemPrompt); sp != "" {
		messages = append(messages, chatMessage{Role: "system", Content: sp})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", domain.NewError(domain.ErrUpstream, "marshal chatgpt payload", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", domain.NewError(domain.ErrUpstream, "new request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", domain.NewError(domain.ErrUpstream, fmt.Sprintf("AI request timed out after %s", c.timeout), ctx.Err())
		}
		return "", domain.NewError(domain.ErrUpstream, "send analysis request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", domain.Errorf(domain.ErrUpstream, "chatgpt error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", domain.NewError(domain.ErrUpstream, "decode chatgpt response", err)
	}
	if len(decoded.Choices) == 0 {
		return "", domain.Errorf(domain.ErrUpstream, "No content in AI response")
	}
	content := decoded.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", domain.Errorf(domain.ErrUpstream, "No content in AI response")
	}
	return content, nil
}

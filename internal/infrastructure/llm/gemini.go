package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/blackswanwtf/blackswan-analysis-service/internal/config"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/domain"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/ports"
)

// GeminiClient implements ports.AnalysisClient for Google Gemini. The SDK
// client is created on first use so a missing key never dials out.
type GeminiClient struct {
	model        string
	apiKey       string
	endpoint     string
	systemPrompt string
	temperature  float32
	maxTokens    int32
	timeout      time.Duration

	mu     sync.Mutex
	client *genai.Client
}

var _ ports.AnalysisClient = (*GeminiClient)(nil)

// NewGeminiClient builds a lazily connected Gemini client.
func NewGeminiClient(cfg config.AIConfig) *GeminiClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &GeminiClient{
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		endpoint:     cfg.Endpoint,
		systemPrompt: cfg.SystemPrompt,
		temperature:  float32(cfg.Temperature),
		maxTokens:    int32(cfg.MaxTokens),
		timeout:      timeout,
	}
}

// Model reports the configured model identifier.
func (c *GeminiClient) Model() string {
	return c.model
}

// Analyze generates one completion for prompt.
func (c *GeminiClient) Analyze(ctx context.Context, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", domain.Errorf(domain.ErrUpstream, "AI API key not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	client, err := c.connect(ctx)
	if err != nil {
		return "", domain.NewError(domain.ErrUpstream, "create Gemini client", err)
	}

	model := client.GenerativeModel(c.model)
	model.SetTemperature(c.temperature)
	if c.maxTokens > 0 {
		model.SetMaxOutputTokens(c.maxTokens)
	}
	if sp := strings.TrimSpace(c.systemPrompt); sp != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(sp))
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		if ctx.Err() != nil {
			return "", domain.NewError(domain.ErrUpstream, fmt.Sprintf("AI request timed out after %s", c.timeout), ctx.Err())
		}
		return "", domain.NewError(domain.ErrUpstream, "generate content", err)
	}

	text, err := extractTextFromResponse(resp)
	if err != nil {
		return "", domain.NewError(domain.ErrUpstream, "No content in AI response", err)
	}
	return text, nil
}

// Close releases the SDK client if one was created.
func (c *GeminiClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

func (c *GeminiClient) connect(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	opts := []option.ClientOption{option.WithAPIKey(c.apiKey)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

func extractTextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}

	text := strings.Join(parts, "")
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("no text parts in response")
	}
	return text, nil
}

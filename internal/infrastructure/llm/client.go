// Package llm holds the reasoning-model providers.
package llm

import (
	"fmt"

	"github.com/blackswanwtf/blackswan-analysis-service/internal/config"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/ports"
)

// NewClient selects a provider from configuration.
func NewClient(cfg config.AIConfig) (ports.AnalysisClient, error) {
	switch cfg.Provider {
	case "", config.ProviderOpenAI:
		return NewChatGPTClient(cfg), nil
	case config.ProviderGemini:
		return NewGeminiClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
	}
}

package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/aescanero/procflow/pkg/adapters/llm/anthropic"
	"github.com/aescanero/procflow/pkg/ports"
)

// Config holds agent executor configuration
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Logger      *zap.Logger
}

// NewAgentExecutor creates the step executor for agent invocations based on provider
func NewAgentExecutor(cfg *Config) (ports.StepExecutor, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewAgentExecutor(cfg.APIKey, anthropic.Settings{
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		}, cfg.Logger)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

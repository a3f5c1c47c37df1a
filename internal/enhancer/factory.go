package enhancer

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/interfaces"
)

// NewProvider creates the enhancement provider selected by configuration
func NewProvider(config *common.EnhancerConfig, logger arbor.ILogger) (interfaces.EnhancementProvider, error) {
	switch config.Provider {
	case "claude":
		return NewClaudeProvider(config, logger)
	case "gemini":
		return NewGeminiProvider(config, logger)
	default:
		return nil, fmt.Errorf("unsupported enhancement provider '%s': must be 'claude' or 'gemini'", config.Provider)
	}
}

// disabledProvider stands in when no provider could be configured. Every
// completion fails, so the enhancement service takes its fallback path and
// the rest of the pipeline keeps working.
type disabledProvider struct {
	reason string
}

// NewDisabledProvider creates the always-failing placeholder provider
func NewDisabledProvider(reason string) interfaces.EnhancementProvider {
	return &disabledProvider{reason: reason}
}

func (p *disabledProvider) Name() string  { return "disabled" }
func (p *disabledProvider) Model() string { return "none" }

func (p *disabledProvider) Complete(ctx context.Context, system, prompt string) (string, error) {
	return "", fmt.Errorf("enhancement disabled: %s", p.reason)
}

package enhancer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
)

// ClaudeProvider generates enhancement completions via the Anthropic API
type ClaudeProvider struct {
	config    *common.EnhancerConfig
	logger    arbor.ILogger
	client    *anthropic.Client
	timeout   time.Duration
	maxTokens int
}

// NewClaudeProvider creates a Claude-backed enhancement provider
func NewClaudeProvider(config *common.EnhancerConfig, logger arbor.ILogger) (*ClaudeProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required (set ANTHROPIC_API_KEY or enhancer.api_key)")
	}

	model := config.Model
	if model == "" {
		model = "claude-haiku-3-5-20241022"
		config.Model = model
	}

	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	client := anthropic.NewClient(
		option.WithAPIKey(config.APIKey),
	)

	provider := &ClaudeProvider{
		config:    config,
		logger:    logger,
		client:    &client,
		timeout:   common.ParseDurationOr(config.Timeout, 2*time.Minute),
		maxTokens: maxTokens,
	}

	logger.Debug().
		Str("model", model).
		Int("max_tokens", maxTokens).
		Msg("Claude enhancement provider initialized")
	return provider, nil
}

func (p *ClaudeProvider) Name() string {
	return "claude"
}

func (p *ClaudeProvider) Model() string {
	return p.config.Model
}

// Complete runs one system+user completion against the configured model
func (p *ClaudeProvider) Complete(ctx context.Context, system, prompt string) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		MaxTokens: int64(p.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if p.config.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(p.config.Temperature))
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: system},
		}
	}

	resp, err := p.client.Messages.New(timeoutCtx, params)
	if err != nil {
		return "", fmt.Errorf("Claude API call failed: %w", err)
	}

	var response strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			response.WriteString(block.Text)
		}
	}
	if response.Len() == 0 {
		return "", fmt.Errorf("no response generated from Claude API")
	}
	return response.String(), nil
}

package llm

import (
	"context"
	"fmt"
	"strings"

	"PMCopilot/internal/config"
	"PMCopilot/internal/ports"
)

// New selects the configured text generator. It returns nil when none is configured.
func New(ctx context.Context, cfg config.LLMConfig) (ports.TextGenerator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "none":
		return nil, nil
	case "gemini":
		client, err := NewGeminiClient(ctx, cfg.Gemini)
		if err != nil {
			return nil, err
		}
		return client, nil
	case "chatgpt":
		return NewChatGPTClient(cfg.ChatGPT, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

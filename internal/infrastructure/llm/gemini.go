package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"PMCopilot/internal/config"
	"PMCopilot/internal/ports"
)

// GeminiClient implements ports.TextGenerator on top of the Gemini API.
type GeminiClient struct {
	client      *genai.Client
	model       string
	temperature float32
}

var _ ports.TextGenerator = (*GeminiClient)(nil)

// NewGeminiClient initializes the genai client.
func NewGeminiClient(ctx context.Context, cfg config.GeminiConfig) (*GeminiClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("init genai client: %w", err)
	}
	return &GeminiClient{client: client, model: cfg.Model, temperature: cfg.Temperature}, nil
}

// Generate returns the text of the first candidate that carries any.
func (g *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.temperature),
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	var out strings.Builder
	if resp != nil {
		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part != nil && part.Text != "" {
					out.WriteString(part.Text)
				}
			}
			if out.Len() > 0 {
				break
			}
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("gemini returned no text")
	}
	return out.String(), nil
}

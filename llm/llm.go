// Package llm wraps the chat completion providers behind one small interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrNoJSON = errors.New("no JSON object in model response")

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Image is an inline image part, already base64 encoded.
type Image struct {
	MediaType string
	Base64    string
}

type Prompt struct {
	System string
	User   string
	Image  *Image
	// JSON asks the provider for a JSON object when it supports that mode.
	JSON      bool
	MaxTokens int
}

type Client interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider  string
	APIKey    string
	Model     string
	MaxTokens int
}

// New builds the provider client named by cfg.Provider.
func New(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: no API key for provider %q", cfg.Provider)
	}
	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI, "":
		return NewOpenAI(cfg.APIKey, cfg.Model, cfg.MaxTokens), nil
	case ProviderAnthropic:
		return NewAnthropic(cfg.APIKey, cfg.Model, cfg.MaxTokens), nil
	}
	return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
}

// ExtractJSONObject returns the text between the first '{' and the last '}'.
// Models often wrap JSON in prose or code fences.
func ExtractJSONObject(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end < start {
		return "", ErrNoJSON
	}
	return text[start : end+1], nil
}

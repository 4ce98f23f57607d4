package core

import "context"

// ProviderKind is the closed set of model provider wire styles.
type ProviderKind string

const (
	ProviderOpenAILike    ProviderKind = "openai_like"
	ProviderAnthropicLike ProviderKind = "anthropic_like"
	ProviderGoogleLike    ProviderKind = "google_like"
)

// Valid reports whether k is one of the supported provider kinds.
func (k ProviderKind) Valid() bool {
	switch k {
	case ProviderOpenAILike, ProviderAnthropicLike, ProviderGoogleLike:
		return true
	}
	return false
}

// Turn is one role-tagged message in a prompt envelope.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Envelope is the provider-agnostic prompt: a system string and ordered turns.
type Envelope struct {
	System   string
	Messages []Turn
}

// LLMRequest carries everything a provider needs for one completion.
type LLMRequest struct {
	Model       string
	Envelope    Envelope
	Temperature float64
	MaxTokens   int
	Stop        []string
}

// LLMProvider sends one non-streaming completion request.
type LLMProvider interface {
	Kind() ProviderKind
	Generate(ctx context.Context, req LLMRequest) (string, error)
}

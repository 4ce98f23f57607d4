package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/markdave123-py/chatbase/internal/core"
)

const defaultOpenAIURL = "https://api.openai.com"

// OpenAILike speaks the chat completions wire format: one flat messages
// array whose first entry carries the system text.
type OpenAILike struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewOpenAILike(apiKey, baseURL string, httpClient *http.Client) *OpenAILike {
	if baseURL == "" {
		baseURL = defaultOpenAIURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &OpenAILike{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (o *OpenAILike) Kind() core.ProviderKind { return core.ProviderOpenAILike }

// openAIMessages maps the envelope onto the flat messages array.
func openAIMessages(env core.Envelope) []openAIMessage {
	out := make([]openAIMessage, 0, len(env.Messages)+1)
	if env.System != "" {
		out = append(out, openAIMessage{Role: "system", Content: env.System})
	}
	for _, t := range env.Messages {
		out = append(out, openAIMessage{Role: t.Role, Content: t.Content})
	}
	return out
}

func (o *OpenAILike) Generate(ctx context.Context, req core.LLMRequest) (string, error) {
	body, err := json.Marshal(openAIRequest{
		Model:       req.Model,
		Messages:    openAIMessages(req.Envelope),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}
	var parsed openAIResponse
	decodeErr := json.Unmarshal(raw, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(raw)
		if decodeErr == nil && parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return "", &StatusError{Provider: o.Kind(), Status: resp.StatusCode, Message: Redact(msg, o.apiKey)}
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode response: %w", decodeErr)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("openai_like: empty choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

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

const (
	defaultAnthropicURL = "https://api.anthropic.com"
	anthropicVersion    = "2023-06-01"
	defaultMaxTokens    = 500
)

// AnthropicLike speaks the messages API: a separate system field and turns
// that strictly alternate starting with the user.
type AnthropicLike struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewAnthropicLike(apiKey, baseURL string, httpClient *http.Client) *AnthropicLike {
	if baseURL == "" {
		baseURL = defaultAnthropicURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &AnthropicLike{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

type anthropicRequest struct {
	Model         string      `json:"model"`
	System        string      `json:"system,omitempty"`
	Messages      []core.Turn `json:"messages"`
	MaxTokens     int         `json:"max_tokens"`
	Temperature   float64     `json:"temperature"`
	StopSequences []string    `json:"stop_sequences,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (a *AnthropicLike) Kind() core.ProviderKind { return core.ProviderAnthropicLike }

// AlternatingTurns merges consecutive turns of the same role and drops
// leading assistant turns so the sequence starts with the user.
func AlternatingTurns(turns []core.Turn) []core.Turn {
	out := make([]core.Turn, 0, len(turns))
	for _, t := range turns {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		if len(out) == 0 && t.Role != "user" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == t.Role {
			out[n-1].Content += "\n\n" + t.Content
			continue
		}
		out = append(out, t)
	}
	return out
}

func (a *AnthropicLike) Generate(ctx context.Context, req core.LLMRequest) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	turns := AlternatingTurns(req.Envelope.Messages)
	if len(turns) == 0 {
		return "", &StatusError{Provider: a.Kind(), Status: http.StatusBadRequest, Message: "no user turn"}
	}

	body, err := json.Marshal(anthropicRequest{
		Model:         req.Model,
		System:        req.Envelope.System,
		Messages:      turns,
		MaxTokens:     maxTokens,
		Temperature:   req.Temperature,
		StopSequences: req.Stop,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}
	var parsed anthropicResponse
	decodeErr := json.Unmarshal(raw, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(raw)
		if decodeErr == nil && parsed.Error != nil {
			msg = parsed.Error.Type + ": " + parsed.Error.Message
		}
		return "", &StatusError{Provider: a.Kind(), Status: resp.StatusCode, Message: Redact(msg, a.apiKey)}
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode response: %w", decodeErr)
	}

	var b strings.Builder
	for _, c := range parsed.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String(), nil
}

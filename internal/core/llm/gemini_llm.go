package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/markdave123-py/chatbase/internal/core"
)

// GeminiLLM is the google_like provider. The SDK client is created on first
// use so a missing key only fails the chatbots that select this provider.
type GeminiLLM struct {
	apiKey  string
	baseURL string

	once    sync.Once
	client  *genai.Client
	initErr error
}

func NewGeminiLLM(apiKey, baseURL string) *GeminiLLM {
	return &GeminiLLM{apiKey: apiKey, baseURL: baseURL}
}

func (g *GeminiLLM) Kind() core.ProviderKind { return core.ProviderGoogleLike }

func (g *GeminiLLM) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiLLM) init(ctx context.Context) error {
	g.once.Do(func() {
		if g.apiKey == "" {
			g.initErr = &StatusError{Provider: g.Kind(), Status: http.StatusUnauthorized, Message: "api key not configured"}
			return
		}
		opts := []option.ClientOption{option.WithAPIKey(g.apiKey)}
		if g.baseURL != "" {
			opts = append(opts, option.WithEndpoint(g.baseURL))
		}
		g.client, g.initErr = genai.NewClient(context.WithoutCancel(ctx), opts...)
	})
	return g.initErr
}

// geminiContents converts turns to genai contents, renaming assistant to
// model. Turns are normalized to start with the user and alternate.
func geminiContents(turns []core.Turn) []*genai.Content {
	norm := AlternatingTurns(turns)
	out := make([]*genai.Content, 0, len(norm))
	for _, t := range norm {
		role := "user"
		if t.Role == "assistant" {
			role = "model"
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(t.Content)}})
	}
	return out
}

func (g *GeminiLLM) Generate(ctx context.Context, req core.LLMRequest) (string, error) {
	if err := g.init(ctx); err != nil {
		return "", err
	}

	m := g.client.GenerativeModel(req.Model)
	m.SetTemperature(float32(req.Temperature))
	if req.MaxTokens > 0 {
		m.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if len(req.Stop) > 0 {
		m.StopSequences = req.Stop
	}
	if req.Envelope.System != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.Envelope.System)}}
	}

	contents := geminiContents(req.Envelope.Messages)
	if len(contents) == 0 || contents[len(contents)-1].Role != "user" {
		return "", &StatusError{Provider: g.Kind(), Status: http.StatusBadRequest, Message: "conversation must end with a user turn"}
	}
	cs := m.StartChat()
	cs.History = contents[:len(contents)-1]

	resp, err := cs.SendMessage(ctx, contents[len(contents)-1].Parts...)
	if err != nil {
		return "", g.classify(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}

// classify turns SDK errors into StatusError so the gateway can apply its
// retry policy.
func (g *GeminiLLM) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return &StatusError{Provider: g.Kind(), Status: http.StatusBadRequest, Message: Redact(blocked.Error(), g.apiKey)}
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return &StatusError{Provider: g.Kind(), Status: gErr.Code, Message: Redact(gErr.Message, g.apiKey)}
	}
	if strings.Contains(err.Error(), "RESOURCE_EXHAUSTED") {
		return fmt.Errorf("%w: %s", ErrRateLimitSignal, Redact(err.Error(), g.apiKey))
	}
	return fmt.Errorf("google_like: %s", Redact(err.Error(), g.apiKey))
}

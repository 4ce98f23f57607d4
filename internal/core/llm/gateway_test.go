package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/markdave123-py/chatbase/internal/config"
	"github.com/markdave123-py/chatbase/internal/core"
)

const testKey = "sk-test-secret-123456789"

func testGatewayConfig() config.GatewayConfig {
	return config.GatewayConfig{
		CallTimeout: time.Second,
		Retry: config.RetryConfig{
			TimeoutRetries:     1,
			RateLimitRetries:   2,
			ServerErrorRetries: 2,
			RateLimitBase:      500 * time.Millisecond,
			JitterMin:          100 * time.Millisecond,
			JitterMax:          400 * time.Millisecond,
		},
	}
}

// newTestGateway records backoff delays instead of sleeping.
func newTestGateway(cfg config.GatewayConfig, providers ...core.LLMProvider) (*Gateway, *[]time.Duration) {
	g := NewGateway(cfg, providers, nil, nil)
	var delays []time.Duration
	g.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	g.jitter = func() float64 { return 0.5 }
	return g, &delays
}

func request() core.LLMRequest {
	return core.LLMRequest{
		Model:       "test-model",
		Temperature: 0.2,
		MaxTokens:   64,
		Envelope: core.Envelope{
			System:   "be brief",
			Messages: []core.Turn{{Role: "user", Content: "hi"}},
		},
	}
}

func openAIServer(t *testing.T, statuses ...int) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		status := statuses[len(statuses)-1]
		if int(n) <= len(statuses) {
			status = statuses[n-1]
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Paris."}}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"error":{"message":"bad key ` + testKey + `","type":"invalid_request_error"}}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestInvokeRetriesServerErrors(t *testing.T) {
	srv, calls := openAIServer(t, 500, 500, 200)
	g, delays := newTestGateway(testGatewayConfig(), NewOpenAILike(testKey, srv.URL, srv.Client()))

	text, err := g.Invoke(context.Background(), core.ProviderOpenAILike, request())
	require.NoError(t, err)
	assert.Equal(t, "Paris.", text)
	assert.EqualValues(t, 3, atomic.LoadInt32(calls))
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, *delays)
}

func TestInvokeServerErrorsExhausted(t *testing.T) {
	srv, calls := openAIServer(t, 503)
	cfg := testGatewayConfig()
	cfg.Retry.ServerErrorRetries = 1
	g, _ := newTestGateway(cfg, NewOpenAILike(testKey, srv.URL, srv.Client()))

	_, err := g.Invoke(context.Background(), core.ProviderOpenAILike, request())
	assert.ErrorIs(t, err, core.ErrProviderUnavailable)
	assert.EqualValues(t, 2, atomic.LoadInt32(calls))
}

func TestInvokeRateLimitBackoff(t *testing.T) {
	srv, calls := openAIServer(t, 429)
	g, delays := newTestGateway(testGatewayConfig(), NewOpenAILike(testKey, srv.URL, srv.Client()))

	_, err := g.Invoke(context.Background(), core.ProviderOpenAILike, request())
	assert.ErrorIs(t, err, core.ErrProviderRateLimited)
	assert.EqualValues(t, 3, atomic.LoadInt32(calls))
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, *delays)
}

func TestInvokeRateLimitJitterBounds(t *testing.T) {
	srv, _ := openAIServer(t, 429)
	g, delays := newTestGateway(testGatewayConfig(), NewOpenAILike(testKey, srv.URL, srv.Client()))
	g.jitter = func() float64 { return 0.999999 }

	_, err := g.Invoke(context.Background(), core.ProviderOpenAILike, request())
	require.ErrorIs(t, err, core.ErrProviderRateLimited)
	require.Len(t, *delays, 2)
	assert.InDelta(t, float64(625*time.Millisecond), float64((*delays)[0]), float64(time.Millisecond))
	assert.InDelta(t, float64(1250*time.Millisecond), float64((*delays)[1]), float64(time.Millisecond))
}

func TestInvokeRejectsClientErrorsWithoutRetry(t *testing.T) {
	srv, calls := openAIServer(t, 401)
	g, delays := newTestGateway(testGatewayConfig(), NewOpenAILike(testKey, srv.URL, srv.Client()))

	_, err := g.Invoke(context.Background(), core.ProviderOpenAILike, request())
	require.ErrorIs(t, err, core.ErrProviderRejected)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
	assert.Empty(t, *delays)
	assert.NotContains(t, err.Error(), testKey)
	assert.Contains(t, err.Error(), "[REDACTED]")
}

type hangingProvider struct{ calls int32 }

func (h *hangingProvider) Kind() core.ProviderKind { return core.ProviderGoogleLike }

func (h *hangingProvider) Generate(ctx context.Context, _ core.LLMRequest) (string, error) {
	atomic.AddInt32(&h.calls, 1)
	<-ctx.Done()
	return "", ctx.Err()
}

func TestInvokeTimeoutRetriesOnce(t *testing.T) {
	cfg := testGatewayConfig()
	cfg.CallTimeout = 20 * time.Millisecond
	p := &hangingProvider{}
	g, delays := newTestGateway(cfg, p)

	_, err := g.Invoke(context.Background(), core.ProviderGoogleLike, request())
	assert.ErrorIs(t, err, core.ErrProviderTimeout)
	assert.EqualValues(t, 2, atomic.LoadInt32(&p.calls))
	require.Len(t, *delays, 1)
	assert.Equal(t, 250*time.Millisecond, (*delays)[0])
}

func TestInvokeCallerCancelled(t *testing.T) {
	p := &hangingProvider{}
	g, _ := newTestGateway(testGatewayConfig(), p)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := g.Invoke(ctx, core.ProviderGoogleLike, request())
	assert.ErrorIs(t, err, core.ErrProviderTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 1, atomic.LoadInt32(&p.calls))
}

func TestInvokeUnknownProvider(t *testing.T) {
	g, _ := newTestGateway(testGatewayConfig())
	_, err := g.Invoke(context.Background(), core.ProviderAnthropicLike, request())
	assert.ErrorIs(t, err, core.ErrUnknownProvider)
	assert.True(t, core.IsProviderError(err))
}

func TestOpenAIRequestShape(t *testing.T) {
	var got openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer "+testKey, r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	req := request()
	req.Stop = []string{"###"}
	req.Envelope.Messages = []core.Turn{{Role: "user", Content: "a"}, {Role: "assistant", Content: "b"}, {Role: "user", Content: "c"}}
	text, err := NewOpenAILike(testKey, srv.URL, srv.Client()).Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)

	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, 0.2, got.Temperature)
	assert.Equal(t, 64, got.MaxTokens)
	assert.Equal(t, []string{"###"}, got.Stop)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, openAIMessage{Role: "system", Content: "be brief"}, got.Messages[0])
	assert.Equal(t, "c", got.Messages[3].Content)
}

func TestAnthropicRequestShape(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, testKey, r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"Bonjour"},{"type":"text","text":"!"}]}`))
	}))
	defer srv.Close()

	req := request()
	req.MaxTokens = 0
	req.Envelope.Messages = []core.Turn{
		{Role: "assistant", Content: "welcome"},
		{Role: "user", Content: "one"},
		{Role: "user", Content: "two"},
		{Role: "assistant", Content: "three"},
		{Role: "user", Content: "four"},
	}
	text, err := NewAnthropicLike(testKey, srv.URL, srv.Client()).Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Bonjour!", text)

	assert.Equal(t, "be brief", got.System)
	assert.Equal(t, 500, got.MaxTokens)
	assert.Equal(t, []core.Turn{
		{Role: "user", Content: "one\n\ntwo"},
		{Role: "assistant", Content: "three"},
		{Role: "user", Content: "four"},
	}, got.Messages)
}

func TestAnthropicOverloadedIsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	}))
	defer srv.Close()

	_, err := NewAnthropicLike(testKey, srv.URL, srv.Client()).Generate(context.Background(), request())
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 529, se.Status)
	assert.Equal(t, outcomeServerError, classify(err))
}

func TestGeminiContents(t *testing.T) {
	contents := geminiContents([]core.Turn{
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "q1"},
		{Role: "assistant", Content: "a1"},
		{Role: "user", Content: "q2"},
	})
	require.Len(t, contents, 3)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	assert.Equal(t, []genai.Part{genai.Text("a1")}, contents[1].Parts)
}

func TestGeminiClassify(t *testing.T) {
	g := NewGeminiLLM("AIzaSyTestKeyThatIsLongEnough123", "")
	err := g.classify(&googleapi.Error{Code: 429, Message: "quota exceeded"})
	assert.Equal(t, outcomeRateLimited, classify(err))

	err = g.classify(&googleapi.Error{Code: 400, Message: "key AIzaSyTestKeyThatIsLongEnough123 invalid"})
	assert.Equal(t, outcomeRejected, classify(err))
	assert.NotContains(t, err.Error(), "AIzaSyTestKeyThatIsLongEnough123")

	err = g.classify(errors.New("rpc error: code = RESOURCE_EXHAUSTED"))
	assert.Equal(t, outcomeRateLimited, classify(err))

	assert.Equal(t, outcomeServerError, classify(g.classify(errors.New("connection reset"))))
}

func TestGeminiWithoutKeyIsRejected(t *testing.T) {
	_, err := NewGeminiLLM("", "").Generate(context.Background(), request())
	assert.Equal(t, outcomeRejected, classify(err))
}

func TestRedact(t *testing.T) {
	msg := Redact("Authorization: Bearer abc.def-123 and api_key=xyz&foo=1 and sk-live-abcdefghijkl", "custom-secret")
	assert.NotContains(t, msg, "abc.def-123")
	assert.NotContains(t, msg, "xyz")
	assert.NotContains(t, msg, "sk-live-abcdefghijkl")
	assert.Contains(t, msg, "api_key=[REDACTED]")

	assert.Equal(t, "token [REDACTED] leaked", Redact("token custom-secret leaked", "custom-secret"))
	assert.Len(t, []rune(Redact(strings.Repeat("x", 1000))), maxMessageLen+1)
}

func TestNewProvidersCoversClosedSet(t *testing.T) {
	ps := NewProviders(config.GatewayConfig{}, nil)
	kinds := map[core.ProviderKind]bool{}
	for _, p := range ps {
		kinds[p.Kind()] = true
	}
	assert.Equal(t, map[core.ProviderKind]bool{
		core.ProviderOpenAILike: true, core.ProviderAnthropicLike: true, core.ProviderGoogleLike: true,
	}, kinds)
}

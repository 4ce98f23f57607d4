package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/markdave123-py/chatbase/internal/config"
	"github.com/markdave123-py/chatbase/internal/core"
	"github.com/markdave123-py/chatbase/internal/core/metrics"
)

type outcome string

const (
	outcomeOK          outcome = "ok"
	outcomeTimeout     outcome = "timeout"
	outcomeRateLimited outcome = "rate_limited"
	outcomeServerError outcome = "server_error"
	outcomeRejected    outcome = "rejected"
)

// Gateway routes requests to one of the closed set of providers and applies
// the per-call deadline and retry policy.
type Gateway struct {
	providers   map[core.ProviderKind]core.LLMProvider
	callTimeout time.Duration
	retry       config.RetryConfig
	metrics     *metrics.Metrics
	logger      *log.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64 // uniform in [0,1)
}

func NewGateway(cfg config.GatewayConfig, providers []core.LLMProvider, m *metrics.Metrics, logger *log.Logger) *Gateway {
	if logger == nil {
		logger = log.Default()
	}
	g := &Gateway{
		providers:   make(map[core.ProviderKind]core.LLMProvider, len(providers)),
		callTimeout: cfg.CallTimeout,
		retry:       cfg.Retry,
		metrics:     m,
		logger:      logger,
		sleep:       sleepCtx,
		jitter:      rand.Float64,
	}
	if g.callTimeout <= 0 {
		g.callTimeout = 30 * time.Second
	}
	if g.retry.RateLimitBase <= 0 {
		g.retry.RateLimitBase = 500 * time.Millisecond
	}
	if g.retry.JitterMax < g.retry.JitterMin {
		g.retry.JitterMax = g.retry.JitterMin
	}
	for _, p := range providers {
		g.providers[p.Kind()] = p
	}
	return g
}

// NewProviders builds the three providers from configuration.
func NewProviders(cfg config.GatewayConfig, httpClient *http.Client) []core.LLMProvider {
	oa := cfg.Provider(string(core.ProviderOpenAILike))
	an := cfg.Provider(string(core.ProviderAnthropicLike))
	gg := cfg.Provider(string(core.ProviderGoogleLike))
	return []core.LLMProvider{
		NewOpenAILike(oa.APIKey, oa.BaseURL, httpClient),
		NewAnthropicLike(an.APIKey, an.BaseURL, httpClient),
		NewGeminiLLM(gg.APIKey, gg.BaseURL),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Invoke sends req to the provider of the given kind.
//
// Deadline exceeded: TimeoutRetries retries after 100-400ms, then ErrProviderTimeout.
// 429 or rate-limit signal: RateLimitRetries retries with exponential backoff
// from RateLimitBase and ±25% jitter, then ErrProviderRateLimited.
// 5xx or transport failure: ServerErrorRetries retries, then ErrProviderUnavailable.
// Any other 4xx: ErrProviderRejected without retry.
func (g *Gateway) Invoke(ctx context.Context, kind core.ProviderKind, req core.LLMRequest) (string, error) {
	p, ok := g.providers[kind]
	if !ok {
		return "", fmt.Errorf("%w: %q", core.ErrUnknownProvider, kind)
	}

	start := time.Now()
	defer func() { g.metrics.ObserveGateway(string(kind), time.Since(start)) }()

	var timeouts, limits, servers int
	for attempt := 1; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
		text, err := p.Generate(callCtx, req)
		cancel()

		if err == nil {
			g.record(kind, req.Model, attempt, outcomeOK)
			return text, nil
		}
		if ctx.Err() != nil {
			g.record(kind, req.Model, attempt, outcomeTimeout)
			return "", fmt.Errorf("%w: %w", core.ErrProviderTimeout, ctx.Err())
		}

		out := classify(err)
		g.record(kind, req.Model, attempt, out)

		var delay time.Duration
		switch out {
		case outcomeTimeout:
			if timeouts >= g.retry.TimeoutRetries {
				return "", fmt.Errorf("%w: %s after %d attempts", core.ErrProviderTimeout, kind, attempt)
			}
			timeouts++
			delay = g.between(g.retry.JitterMin, g.retry.JitterMax)
		case outcomeRateLimited:
			if limits >= g.retry.RateLimitRetries {
				return "", fmt.Errorf("%w: %s", core.ErrProviderRateLimited, Redact(err.Error()))
			}
			base := g.retry.RateLimitBase << limits
			delay = time.Duration(float64(base) * (0.75 + 0.5*g.jitter()))
			limits++
		case outcomeServerError:
			if servers >= g.retry.ServerErrorRetries {
				return "", fmt.Errorf("%w: %s", core.ErrProviderUnavailable, Redact(err.Error()))
			}
			servers++
			delay = g.between(g.retry.JitterMin, g.retry.JitterMax)
		default:
			return "", fmt.Errorf("%w: %s", core.ErrProviderRejected, Redact(err.Error()))
		}

		if err := g.sleep(ctx, delay); err != nil {
			return "", fmt.Errorf("%w: %w", core.ErrProviderTimeout, err)
		}
	}
}

func (g *Gateway) between(lo, hi time.Duration) time.Duration {
	return lo + time.Duration(g.jitter()*float64(hi-lo))
}

func (g *Gateway) record(kind core.ProviderKind, model string, attempt int, out outcome) {
	g.metrics.GatewayAttempt(string(kind), string(out))
	if out != outcomeOK {
		g.logger.Printf("[Gateway] provider=%s model=%s attempt=%d outcome=%s", kind, model, attempt, out)
	}
}

func classify(err error) outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return outcomeTimeout
	}
	if errors.Is(err, ErrRateLimitSignal) {
		return outcomeRateLimited
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Status == http.StatusTooManyRequests:
			return outcomeRateLimited
		case se.Status == http.StatusRequestTimeout:
			return outcomeTimeout
		case se.Status >= 500:
			return outcomeServerError
		case se.Status >= 400:
			return outcomeRejected
		}
		return outcomeServerError
	}
	// transport failures
	return outcomeServerError
}

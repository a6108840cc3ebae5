// Package llm wraps the hosted chat-completion API behind quota, rate
// limit, retry, and circuit breaker layers, and supplies the scripted
// fallback used when every layer fails.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/helpdeck/helpdeck/internal/prompt"
)

// Sentinel errors.
var (
	// ErrQuotaExceeded is returned before any model call when the
	// business has exhausted its monthly query quota.
	ErrQuotaExceeded = errors.New("monthly quota exceeded")

	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = errors.New("empty model response")
)

// FallbackModel is the model label carried by scripted fallback replies.
const FallbackModel = "fallback"

// fallbackText is the scripted response used when generation fails.
// It is fixed so clients and tests can rely on it.
const fallbackText = "I'm sorry, I'm having trouble answering right now. " +
	"Please try again in a moment, or contact the business directly for immediate help."

// QuotaChecker gates generation on the business's remaining quota.
// The check runs before any model call so an over-quota business never
// spends provider tokens.
type QuotaChecker interface {
	CheckQuota(ctx context.Context, businessID uuid.UUID) error
}

// Reply is the outcome of one generation call.
type Reply struct {
	Text         string
	Model        string
	TokensUsed   int
	CostEstimate float64
	FinishReason string
	Duration     time.Duration
}

// StreamFunc receives response text incrementally during streaming
// generation. Returning an error aborts the stream.
type StreamFunc func(ctx context.Context, text string) error

// Config configures a Generator.
type Config struct {
	Model             string // full model name, e.g. "googleai/gemini-2.5-flash"
	Temperature       float64
	RequestsPerMinute int // provider-side pacing; 0 disables
	Retry             RetryConfig
	Breaker           BreakerConfig
}

// Generator calls the chat-completion API.
//
// Generator is safe for concurrent use by multiple goroutines.
type Generator struct {
	g           *genkit.Genkit
	model       string
	temperature float64
	quota       QuotaChecker
	limiter     *rate.Limiter
	breaker     *Breaker
	retry       RetryConfig
	logger      *slog.Logger
}

// NewGenerator creates a Generator. quota may be nil to disable the gate
// (used by tests and offline tools).
func NewGenerator(g *genkit.Genkit, cfg Config, quota QuotaChecker, logger *slog.Logger) (*Generator, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.RequestsPerMinute)
	}

	return &Generator{
		g:           g,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		quota:       quota,
		limiter:     limiter,
		breaker:     NewBreaker(cfg.Breaker),
		retry:       cfg.Retry.withDefaults(),
		logger:      logger,
	}, nil
}

// Generate produces a full (non-streaming) reply for p.
//
// Order of gates: quota first (no tokens are ever spent over quota), then
// the circuit breaker, then per-attempt rate limiting inside the retry
// loop. Callers receiving any error should fall back via Fallback.
func (gen *Generator) Generate(ctx context.Context, businessID uuid.UUID, p prompt.Prompt) (*Reply, error) {
	return gen.generate(ctx, businessID, p, nil)
}

// GenerateStream produces a reply while forwarding text chunks to cb as
// they arrive. The returned Reply carries the complete concatenated text.
func (gen *Generator) GenerateStream(ctx context.Context, businessID uuid.UUID, p prompt.Prompt, cb StreamFunc) (*Reply, error) {
	if cb == nil {
		return nil, fmt.Errorf("stream callback is required")
	}
	return gen.generate(ctx, businessID, p, cb)
}

func (gen *Generator) generate(ctx context.Context, businessID uuid.UUID, p prompt.Prompt, cb StreamFunc) (*Reply, error) {
	if gen.quota != nil {
		if err := gen.quota.CheckQuota(ctx, businessID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
		}
	}

	if err := gen.breaker.Allow(); err != nil {
		return nil, err
	}

	opts := []ai.GenerateOption{
		ai.WithModelName(gen.model),
		ai.WithSystem(prompt.Render(p)),
		ai.WithMessages(ai.NewUserMessage(ai.NewTextPart(p.CurrentQuery))),
	}
	if gen.temperature > 0 {
		opts = append(opts, ai.WithConfig(map[string]any{"temperature": gen.temperature}))
	}
	if cb != nil {
		opts = append(opts, ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			return cb(ctx, chunk.Text())
		}))
	}

	start := time.Now()
	resp, err := gen.executeWithRetry(ctx, opts)
	if err != nil {
		gen.breaker.Failure()
		return nil, err
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		gen.breaker.Failure()
		return nil, ErrEmptyResponse
	}
	gen.breaker.Success()

	reply := &Reply{
		Text:         text,
		Model:        gen.model,
		FinishReason: string(resp.FinishReason),
		Duration:     time.Since(start),
	}
	reply.TokensUsed = tokensUsed(resp, p, text)
	reply.CostEstimate = estimateCost(gen.model, reply.TokensUsed)
	return reply, nil
}

// executeWithRetry runs genkit.Generate with exponential backoff on
// transient errors. Each attempt waits on the provider rate limiter.
func (gen *Generator) executeWithRetry(ctx context.Context, opts []ai.GenerateOption) (*ai.ModelResponse, error) {
	var lastErr error
	delay := gen.retry.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= gen.retry.MaxRetries; attempt++ {
		if gen.limiter != nil {
			if err := gen.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		resp, err := genkit.Generate(ctx, gen.g, opts...)
		if err == nil {
			gen.logger.Debug("generation succeeded",
				"attempts", attempt+1,
				"elapsed", time.Since(start),
			)
			return resp, nil
		}

		lastErr = err
		if !retryableError(err) {
			return nil, fmt.Errorf("generate: %w", err)
		}
		if attempt == gen.retry.MaxRetries {
			break
		}

		gen.logger.Debug("retrying after transient error",
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, gen.retry.MaxInterval)
		}
	}

	return nil, fmt.Errorf("generate after %d retries (elapsed %v): %w",
		gen.retry.MaxRetries, time.Since(start), lastErr)
}

// BreakerState exposes the circuit breaker state for health reporting.
func (gen *Generator) BreakerState() BreakerState {
	return gen.breaker.State()
}

// Fallback returns the scripted reply used when generation fails for any
// reason. Its text is always non-empty and its model label is "fallback".
func Fallback() *Reply {
	return &Reply{
		Text:         fallbackText,
		Model:        FallbackModel,
		FinishReason: FallbackModel,
	}
}

// tokensUsed prefers the provider-reported usage, falling back to the
// length/4 heuristic over prompt plus response.
func tokensUsed(resp *ai.ModelResponse, p prompt.Prompt, text string) int {
	if resp.Usage != nil && resp.Usage.TotalTokens > 0 {
		return resp.Usage.TotalTokens
	}
	return prompt.EstimateTokens(p) + len(text)/4
}

// Package router implements the Model Router: a primary + fallback
// model chain with per-model cooldowns keyed on error class, request
// pacing, and the emergency context-overflow recovery path.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	agentcore "github.com/havenrun/agentcore"
)

// Chain is the resolved model candidate list for one run: primary plus
// up to two fallbacks, per the chain contract `[primary,
// ...fallbacks].slice(0, 3)`.
func Chain(primary string, fallbacks []string) []string {
	chain := append([]string{primary}, fallbacks...)
	if len(chain) > 3 {
		chain = chain[:3]
	}
	return chain
}

// Router selects a model from a chain, skipping cooled-down candidates
// unless they are the last one available, and paces requests per model
// with a token-bucket limiter so a model fresh out of cooldown isn't
// immediately hammered by a burst of queued work.
type Router struct {
	provider Provider
	cooldown *cooldownTable

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	logger *slog.Logger
}

// Provider is the subset of agentcore.Provider the router drives calls
// through; it is the same interface, named locally to keep this
// package's public surface self-describing.
type Provider = agentcore.Provider

// New creates a Router backed by a single Provider capable of serving
// any model id in the chain (e.g. an OpenRouter-style Provider that
// takes model as a per-request parameter).
func New(provider Provider, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		provider: provider,
		cooldown: newCooldownTable(),
		limiters: make(map[string]*rate.Limiter),
		logger:   logger,
	}
}

func (r *Router) limiterFor(model string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[model]
	if !ok {
		l = rate.NewLimiter(rate.Limit(5), 10) // 5 req/s, burst 10, per model
		r.limiters[model] = l
	}
	return l
}

// Outcome is the result of Route: the model that served the request
// and its result.
type Outcome[T any] struct {
	Model  string
	Result T
}

// Route attempts each candidate in chain in order, skipping cooled-down
// models unless they are the last candidate. call performs one attempt
// against model (a single LLM call, or an entire tool-execution-loop
// run — Route is agnostic to what T is). On a classified retryable
// failure it sets a cooldown and advances to the next candidate; on
// context-overflow it invokes recoverOverflow (the caller's
// emergency-compaction-and-retry collaborator) without advancing the
// chain, since the same context would fail again on a different model;
// on a non-classified failure it returns immediately.
func Route[T any](r *Router, ctx context.Context, chain []string, call func(ctx context.Context, model string) (T, error), recoverOverflow func(ctx context.Context, model string) (T, error)) (Outcome[T], error) {
	var zero Outcome[T]
	if len(chain) == 0 {
		return zero, fmt.Errorf("router: empty model chain")
	}

	var lastErr error
	for i, model := range chain {
		isLast := i == len(chain)-1
		now := time.Now()
		if r.cooldown.inCooldown(model, now) && !isLast {
			r.logger.Info("router: skipping cooled-down model", "model", model)
			continue
		}

		if err := r.limiterFor(model).Wait(ctx); err != nil {
			return zero, fmt.Errorf("router: rate limiter wait: %w", err)
		}

		result, err := call(ctx, model)
		if err == nil {
			r.cooldown.clear(model)
			return Outcome[T]{Model: model, Result: result}, nil
		}

		class := Classify(err)
		switch class {
		case ClassContextOverflow:
			if recoverOverflow != nil {
				result, rerr := recoverOverflow(ctx, model)
				if rerr == nil {
					return Outcome[T]{Model: model, Result: result}, nil
				}
				return zero, fmt.Errorf("router: context-overflow recovery failed on %s: %w", model, rerr)
			}
			return zero, fmt.Errorf("router: context overflow on %s, no recovery configured: %w", model, err)

		case ClassRetryable:
			d := serverErrCooldown
			if IsRateLimit(err) {
				d = rateLimitCooldown
			}
			r.cooldown.setWithDuration(model, now, d)
			r.logger.Warn("router: retryable failure, advancing chain", "model", model, "error", err)
			lastErr = err
			continue

		default:
			return zero, fmt.Errorf("router: non-classified failure on %s: %w", model, err)
		}
	}

	return zero, fmt.Errorf("router: all candidates exhausted: %w", lastErr)
}

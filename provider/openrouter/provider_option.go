package openrouter

import (
	"log/slog"
	"net/http"
	"time"
)

// Option configures a Provider at construction time.
type Option func(*Provider)

// WithHTTPClient overrides the default http.Client (e.g. for proxies or
// test transports).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithTimeout sets the per-attempt HTTP timeout (openrouter.timeoutMs
// config key).
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.timeout = d }
}

// WithRetry enables transient-error retry with exponential backoff
// (openrouter.retry config key). Disabled by default.
func WithRetry(enabled bool) Option {
	return func(p *Provider) { p.retry = enabled }
}

// WithLogger sets the provider's structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithName overrides the provider name reported to the router (default
// "openrouter").
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

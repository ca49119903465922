package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	agentcore "github.com/havenrun/agentcore"
)

// Provider implements agentcore.Provider against any OpenAI-compatible
// chat completions endpoint: OpenRouter, OpenAI, Groq, or a local
// vLLM/Ollama instance. baseURL is the API root (e.g.
// "https://openrouter.ai/api/v1"); "/chat/completions" is appended.
type Provider struct {
	apiKey  string
	baseURL string
	client  *http.Client
	name    string
	timeout time.Duration
	retry   bool
	logger  *slog.Logger
}

// New creates an OpenRouter-compatible Provider.
func New(apiKey, baseURL string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{},
		name:    "openrouter",
		timeout: 60 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// compile-time check
var _ agentcore.Provider = (*Provider)(nil)

// Name returns the provider's identity for router chain/cooldown
// bookkeeping.
func (p *Provider) Name() string { return p.name }

// Chat sends a non-streaming request. When p.retry is enabled, network
// errors (not HTTP status errors, which are the router's concern) are
// retried with exponential backoff: 500ms initial, 5s cap, factor 2,
// 20s max elapsed — per-call, not per-model-chain.
func (p *Provider) Chat(ctx context.Context, req agentcore.ChatRequest) (agentcore.ChatResponse, error) {
	body := buildBody(req)
	if !p.retry {
		return p.doOnce(ctx, body)
	}
	return p.doWithRetry(ctx, body)
}

func (p *Provider) doWithRetry(ctx context.Context, body wireRequest) (agentcore.ChatResponse, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.Multiplier = 2
	operation := func() (agentcore.ChatResponse, error) {
		resp, err := p.doOnce(ctx, body)
		if err != nil && isNetworkError(err) {
			return agentcore.ChatResponse{}, err
		}
		if err != nil {
			return agentcore.ChatResponse{}, backoff.Permanent(err)
		}
		return resp, nil
	}
	return backoff.Retry(ctx, operation, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(20*time.Second))
}

func (p *Provider) doOnce(ctx context.Context, body wireRequest) (agentcore.ChatResponse, error) {
	resp, err := p.sendHTTP(ctx, body)
	if err != nil {
		return agentcore.ChatResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return agentcore.ChatResponse{}, p.httpErr(resp)
	}
	var wr wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return agentcore.ChatResponse{}, &agentcore.ErrLLM{Provider: p.name, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return parseResponse(wr), nil
}

// ChatStream streams text deltas into ch and returns the accumulated
// response. Streaming calls are never retried: once tokens have started
// arriving, resending would duplicate content (the router's fallback
// chain handles retryable errors observed before any token is sent).
func (p *Provider) ChatStream(ctx context.Context, req agentcore.ChatRequest, ch chan<- agentcore.StreamEvent) (agentcore.ChatResponse, error) {
	body := buildBody(req)
	body.Stream = true
	body.StreamOptions = &streamOptions{IncludeUsage: true}

	resp, err := p.sendHTTP(ctx, body)
	if err != nil {
		close(ch)
		return agentcore.ChatResponse{}, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		close(ch)
		return agentcore.ChatResponse{}, p.httpErr(resp)
	}
	defer resp.Body.Close()
	return streamSSE(ctx, resp.Body, ch)
}

func (p *Provider) sendHTTP(ctx context.Context, body wireRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &agentcore.ErrLLM{Provider: p.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &agentcore.ErrLLM{Provider: p.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	return p.client.Do(httpReq)
}

func (p *Provider) httpErr(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)
	return &agentcore.ErrHTTP{
		Status:     resp.StatusCode,
		Body:       string(data),
		RetryAfter: agentcore.ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// isNetworkError reports whether Chat retries err: an error from below
// the HTTP layer (connection refused, DNS failure, timeout), or an
// ErrLLM raised while building the request or decoding the response.
// HTTP status errors are left for the router to classify.
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var llmErr *agentcore.ErrLLM
	return errors.As(err, &llmErr)
}

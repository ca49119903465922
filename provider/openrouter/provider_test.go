package openrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	agentcore "github.com/havenrun/agentcore"
)

func TestProvider_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("expected path /chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}

		var req wireRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "gpt-4o" {
			t.Errorf("expected model gpt-4o, got %s", req.Model)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(wireResponse{
			Choices: []wireChoice{{Message: &wireChoiceMessage{Role: "assistant", Content: "Hello!"}}},
			Usage:   &wireUsage{PromptTokens: 5, CompletionTokens: 2},
		})
	}))
	defer srv.Close()

	p := New("test-key", srv.URL)

	resp, err := p.Chat(context.Background(), agentcore.ChatRequest{
		Model:    "gpt-4o",
		Messages: []agentcore.ChatMessage{{Role: agentcore.RoleUser, Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if resp.Text != "Hello!" {
		t.Errorf("expected text Hello!, got %q", resp.Text)
	}
	if resp.Usage.PromptTokens != 5 || resp.Usage.CompletionTokens != 2 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
}

func TestProvider_Chat_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"internal error"}`))
	}))
	defer srv.Close()

	p := New("test-key", srv.URL)

	_, err := p.Chat(context.Background(), agentcore.ChatRequest{
		Model:    "gpt-4o",
		Messages: []agentcore.ChatMessage{{Role: agentcore.RoleUser, Content: "Hi"}},
	})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	httpErr, ok := err.(*agentcore.ErrHTTP)
	if !ok {
		t.Fatalf("expected *agentcore.ErrHTTP, got %T", err)
	}
	if httpErr.Status != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", httpErr.Status)
	}
}

func TestProvider_ChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req wireRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if !req.Stream {
			t.Error("expected stream=true")
		}
		if req.StreamOptions == nil || !req.StreamOptions.IncludeUsage {
			t.Error("expected stream_options.include_usage=true")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		chunks := []string{
			`data: {"choices":[{"delta":{"role":"assistant","content":""}}]}`,
			`data: {"choices":[{"delta":{"content":"Hello"}}]}`,
			`data: {"choices":[{"delta":{"content":" world"}}]}`,
			`data: {"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2}}`,
			`data: [DONE]`,
		}
		for _, c := range chunks {
			w.Write([]byte(c + "\n\n"))
			flusher.Flush()
		}
	}))
	defer srv.Close()

	p := New("test-key", srv.URL)

	ch := make(chan agentcore.StreamEvent, 10)
	resp, err := p.ChatStream(context.Background(), agentcore.ChatRequest{
		Model:    "gpt-4o",
		Messages: []agentcore.ChatMessage{{Role: agentcore.RoleUser, Content: "Hi"}},
	}, ch)
	if err != nil {
		t.Fatalf("ChatStream returned error: %v", err)
	}

	var deltas int
	for range ch {
		deltas++
	}
	if resp.Text != "Hello world" {
		t.Errorf("expected text 'Hello world', got %q", resp.Text)
	}
	if deltas != 2 {
		t.Errorf("expected 2 text deltas, got %d", deltas)
	}
}

func TestProvider_ChatStream_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	p := New("test-key", srv.URL)

	ch := make(chan agentcore.StreamEvent, 10)
	_, err := p.ChatStream(context.Background(), agentcore.ChatRequest{
		Model:    "gpt-4o",
		Messages: []agentcore.ChatMessage{{Role: agentcore.RoleUser, Content: "Hi"}},
	}, ch)
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
	if _, open := <-ch; open {
		t.Error("expected channel to be closed on error")
	}
}

func TestProvider_Name(t *testing.T) {
	p := New("key", "http://localhost")
	if p.Name() != "openrouter" {
		t.Errorf("expected default name openrouter, got %q", p.Name())
	}

	p = New("key", "http://localhost", WithName("groq"))
	if p.Name() != "groq" {
		t.Errorf("expected name groq, got %q", p.Name())
	}
}

func TestProvider_NoAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Error("expected no auth header for empty API key")
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(wireResponse{
			Choices: []wireChoice{{Message: &wireChoiceMessage{Role: "assistant", Content: "OK"}}},
		})
	}))
	defer srv.Close()

	p := New("", srv.URL)
	resp, err := p.Chat(context.Background(), agentcore.ChatRequest{
		Model:    "llama3",
		Messages: []agentcore.ChatMessage{{Role: agentcore.RoleUser, Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if resp.Text != "OK" {
		t.Errorf("expected text OK, got %q", resp.Text)
	}
}

func TestProvider_RetryOnNetworkError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			// Close the connection without responding, simulating a
			// transient network failure the retry should recover from.
			hj, _ := w.(http.Hijacker)
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(wireResponse{
			Choices: []wireChoice{{Message: &wireChoiceMessage{Role: "assistant", Content: "recovered"}}},
		})
	}))
	defer srv.Close()

	p := New("key", srv.URL, WithRetry(true))
	resp, err := p.Chat(context.Background(), agentcore.ChatRequest{
		Model:    "gpt-4o",
		Messages: []agentcore.ChatMessage{{Role: agentcore.RoleUser, Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if resp.Text != "recovered" {
		t.Errorf("expected text recovered, got %q", resp.Text)
	}
	if attempts < 2 {
		t.Errorf("expected at least 2 attempts, got %d", attempts)
	}
}

func TestProvider_NoRetryOnHTTPStatusError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := New("key", srv.URL, WithRetry(true))
	_, err := p.Chat(context.Background(), agentcore.ChatRequest{
		Model:    "gpt-4o",
		Messages: []agentcore.ChatMessage{{Role: agentcore.RoleUser, Content: "Hi"}},
	})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt for an HTTP status error (router's concern, not the provider's), got %d", attempts)
	}
}

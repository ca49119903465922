package toolloop

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	agentcore "github.com/havenrun/agentcore"
)

// scriptedProvider returns one scripted ChatResponse per call, in
// order, looping the last entry if more calls arrive than scripted.
type scriptedProvider struct {
	responses []agentcore.ChatResponse
	errs      []error
	calls     int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(ctx context.Context, req agentcore.ChatRequest) (agentcore.ChatResponse, error) {
	i := p.calls
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	p.calls++
	var err error
	if i < len(p.errs) {
		err = p.errs[i]
	}
	return p.responses[i], err
}

func (p *scriptedProvider) ChatStream(ctx context.Context, req agentcore.ChatRequest, ch chan<- agentcore.StreamEvent) (agentcore.ChatResponse, error) {
	close(ch)
	return p.Chat(ctx, req)
}

// echoTool returns its input args as output; used to drive the
// tool-round loop deterministically.
type echoTool struct {
	name       string
	idempotent bool
	fail       error
}

func (t *echoTool) Definition() agentcore.ToolDefinition {
	return agentcore.ToolDefinition{Name: t.name, Description: "echo", Parameters: map[string]any{}}
}
func (t *echoTool) Idempotent() bool { return t.idempotent }
func (t *echoTool) Execute(ctx context.Context, args string) (string, error) {
	if t.fail != nil {
		return "", t.fail
	}
	return args, nil
}

func baseConfig() Config {
	return Config{
		MaxToolSteps:                 10,
		IdempotentRetryAttempts:      2,
		IdempotentRetryBackoffMs:     1,
		RepeatedSignatureThreshold:   3,
		RepeatedRoundThreshold:       3,
		NonRetryableFailureThreshold: 3,
		ForceSynthesisAfterTools:     true,
		ContextLength:                128000,
	}
}

func TestRunSimpleToolRound(t *testing.T) {
	reg := agentcore.NewToolRegistry()
	reg.Add(&echoTool{name: "echo", idempotent: true})

	provider := &scriptedProvider{
		responses: []agentcore.ChatResponse{
			{PendingCalls: []agentcore.ToolCall{{ID: "1", Name: "echo", Args: `{"x":1}`}}},
			{Text: "done"},
		},
	}

	loop := &Loop{Provider: provider, Registry: reg, Config: baseConfig()}
	res, err := loop.Run(context.Background(), "be helpful", nil, "model-a", 0.7, 500, "off", agentcore.ToolPolicy{DefaultMaxPerRun: 5}, "please echo something", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Text != "done" {
		t.Fatalf("got text %q, want %q", res.Text, "done")
	}
	if len(res.ToolCalls) != 1 || !res.ToolCalls[0].OK {
		t.Fatalf("expected one successful tool call, got %+v", res.ToolCalls)
	}
}

func TestRunPolicyDeniesTool(t *testing.T) {
	reg := agentcore.NewToolRegistry()
	reg.Add(&echoTool{name: "echo", idempotent: true})

	provider := &scriptedProvider{
		responses: []agentcore.ChatResponse{
			{PendingCalls: []agentcore.ToolCall{{ID: "1", Name: "echo", Args: `{}`}}},
			{Text: "done"},
		},
	}

	loop := &Loop{Provider: provider, Registry: reg, Config: baseConfig()}
	res, err := loop.Run(context.Background(), "be helpful", nil, "model-a", 0.7, 500, "off", agentcore.ToolPolicy{Deny: []string{"echo"}}, "please echo something", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].OK {
		t.Fatalf("expected denied call to fail, got %+v", res.ToolCalls)
	}
}

func TestRunRepeatedCallSignatureBreaker(t *testing.T) {
	reg := agentcore.NewToolRegistry()
	reg.Add(&echoTool{name: "echo", idempotent: true})

	call := agentcore.ToolCall{ID: "1", Name: "echo", Args: `{"x":1}`}
	provider := &scriptedProvider{
		responses: []agentcore.ChatResponse{
			{PendingCalls: []agentcore.ToolCall{call}},
			{PendingCalls: []agentcore.ToolCall{call}},
			{PendingCalls: []agentcore.ToolCall{call}},
		},
	}

	cfg := baseConfig()
	cfg.RepeatedSignatureThreshold = 2
	loop := &Loop{Provider: provider, Registry: reg, Config: cfg}
	res, err := loop.Run(context.Background(), "be helpful", nil, "model-a", 0.7, 500, "off", agentcore.ToolPolicy{DefaultMaxPerRun: 99}, "please echo something", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.ToolLoopBreakerTriggered {
		t.Fatal("expected breaker to trigger on repeated identical calls")
	}
}

func TestRunForcedSynthesisOnEmptyText(t *testing.T) {
	reg := agentcore.NewToolRegistry()
	reg.Add(&echoTool{name: "echo", idempotent: true})

	provider := &scriptedProvider{
		responses: []agentcore.ChatResponse{
			{PendingCalls: []agentcore.ToolCall{{ID: "1", Name: "echo", Args: `{}`}}},
			{Text: ""},
			{Text: "synthesized answer"},
		},
	}

	loop := &Loop{Provider: provider, Registry: reg, Config: baseConfig()}
	res, err := loop.Run(context.Background(), "be helpful", nil, "model-a", 0.7, 500, "off", agentcore.ToolPolicy{DefaultMaxPerRun: 5}, "please echo something", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Text != "synthesized answer" {
		t.Fatalf("got %q, want forced synthesis text", res.Text)
	}
}

func TestRunIdempotentRetryOnTransientFailure(t *testing.T) {
	reg := agentcore.NewToolRegistry()
	reg.Add(&echoTool{name: "flaky", idempotent: true, fail: errors.New("connection reset")})

	provider := &scriptedProvider{
		responses: []agentcore.ChatResponse{
			{PendingCalls: []agentcore.ToolCall{{ID: "1", Name: "flaky", Args: `{}`}}},
			{Text: "done"},
		},
	}

	loop := &Loop{Provider: provider, Registry: reg, Config: baseConfig()}
	res, err := loop.Run(context.Background(), "be helpful", nil, "model-a", 0.7, 500, "off", agentcore.ToolPolicy{DefaultMaxPerRun: 5}, "please echo something", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ToolRetryAttempts == 0 {
		t.Fatal("expected idempotent retry attempts to be recorded")
	}
	if res.ToolCalls[0].OK {
		t.Fatal("expected the call to still fail after exhausting retries")
	}
}

func TestDeterministicFallbackCreateThenRead(t *testing.T) {
	reg := agentcore.NewToolRegistry()
	reg.Add(&echoTool{name: "fs_write", idempotent: false})
	reg.Add(&echoTool{name: "fs_read", idempotent: true})

	provider := &scriptedProvider{
		responses: []agentcore.ChatResponse{
			{Text: ""},
			{Text: ""},
			{Text: ""},
		},
	}

	loop := &Loop{Provider: provider, Registry: reg, Config: baseConfig()}
	prompt := "create file notes.txt with 3 lines then read it back"
	res, err := loop.Run(context.Background(), "be helpful", nil, "model-a", 0.7, 500, "off", agentcore.ToolPolicy{DefaultMaxPerRun: 5}, prompt, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.ToolCalls) != 2 {
		t.Fatalf("expected write+read fallback, got %+v", res.ToolCalls)
	}
	if res.ToolCalls[0].Name != "fs_write" || res.ToolCalls[1].Name != "fs_read" {
		t.Fatalf("unexpected fallback order: %+v", res.ToolCalls)
	}
}

// TestDeterministicFallbackCreateThenReadBarePath covers a prompt that
// names its target by a bare path instead of the word "file": the
// classifier and fallback parser must both still recognize it.
func TestDeterministicFallbackCreateThenReadBarePath(t *testing.T) {
	reg := agentcore.NewToolRegistry()
	reg.Add(&echoTool{name: "fs_write", idempotent: false})
	reg.Add(&echoTool{name: "fs_read", idempotent: true})

	provider := &scriptedProvider{
		responses: []agentcore.ChatResponse{
			{Text: ""},
			{Text: ""},
			{Text: ""},
		},
	}

	loop := &Loop{Provider: provider, Registry: reg, Config: baseConfig()}
	prompt := "Create /workspace/group/foo.txt with 3 lines: A B C, then read it back."
	required, memoryOnly := RequiresToolExecution(prompt)
	if !required || memoryOnly {
		t.Fatalf("expected required=true memoryOnly=false, got required=%v memoryOnly=%v", required, memoryOnly)
	}

	res, err := loop.Run(context.Background(), "be helpful", nil, "model-a", 0.7, 500, "off", agentcore.ToolPolicy{DefaultMaxPerRun: 5}, prompt, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.ToolCalls) != 2 {
		t.Fatalf("expected write+read fallback, got %+v", res.ToolCalls)
	}
	if res.ToolCalls[0].Name != "fs_write" || res.ToolCalls[1].Name != "fs_read" {
		t.Fatalf("unexpected fallback order: %+v", res.ToolCalls)
	}
	if res.ToolCalls[0].Args != `{"path":"/workspace/group/foo.txt","content":"line 1\nline 2\nline 3\n"}` {
		t.Fatalf("unexpected write args: %s", res.ToolCalls[0].Args)
	}
}

func TestReplyTagParsing(t *testing.T) {
	text, id := parseReplyTag("here is the answer [[reply_to:42]]")
	if id != "42" {
		t.Fatalf("got id %q, want 42", id)
	}
	if text != "here is the answer" {
		t.Fatalf("got %q", text)
	}

	text2, id2 := parseReplyTag("ok [[reply_to_current]]")
	if id2 != "current" || text2 != "ok" {
		t.Fatalf("got %q/%q", text2, id2)
	}
}

func TestCanonicalizeArgsIgnoresKeyOrder(t *testing.T) {
	a, _ := json.Marshal(map[string]any{"b": 1, "a": 2})
	c1 := canonicalizeArgs(string(a))
	c2 := canonicalizeArgs(`{"a":2,"b":1}`)
	if c1 != c2 {
		t.Fatalf("expected canonicalized forms to match: %q vs %q", c1, c2)
	}
}

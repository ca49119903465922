package session

import (
	"context"
	"fmt"
	"strings"
	"testing"

	agentcore "github.com/havenrun/agentcore"
	"github.com/havenrun/agentcore/internal/budget"
)

// scriptedSummaryProvider returns one fixed JSON summary response per
// call, in order, and records every request it received.
type scriptedSummaryProvider struct {
	responses []string
	requests  []agentcore.ChatRequest
}

func (p *scriptedSummaryProvider) Name() string { return "scripted" }

func (p *scriptedSummaryProvider) Chat(ctx context.Context, req agentcore.ChatRequest) (agentcore.ChatResponse, error) {
	p.requests = append(p.requests, req)
	i := len(p.requests) - 1
	if i >= len(p.responses) {
		return agentcore.ChatResponse{}, fmt.Errorf("scriptedSummaryProvider: no response scripted for call %d", i)
	}
	return agentcore.ChatResponse{Text: p.responses[i]}, nil
}

func (p *scriptedSummaryProvider) ChatStream(ctx context.Context, req agentcore.ChatRequest, ch chan<- agentcore.StreamEvent) (agentcore.ChatResponse, error) {
	close(ch)
	return p.Chat(ctx, req)
}

func bigEstimator() budget.Estimator {
	return budget.NewEstimator(agentcore.TokenEstimateConfig{TokensPerChar: 5})
}

func TestCompact_MultiPartPassesPriorSummaryForward(t *testing.T) {
	store := newTestStore(t)
	sctx, _, err := store.Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sctx.Close()

	// 2500 chars * 5 tokens/char = 12500 tokens/message.
	content := strings.Repeat("x", 2500)
	var history []Record
	for i := int64(1); i <= 10; i++ {
		history = append(history, Record{Seq: i, Role: "user", Content: content, Timestamp: i})
	}

	provider := &scriptedSummaryProvider{
		responses: []string{
			`{"summary":"part1 summary","facts":["fact-from-part1"]}`,
			`{"summary":"part2 summary","facts":["fact-from-part2"]}`,
		},
	}
	compactor := &Compactor{
		SummaryProvider: provider,
		SummaryModel:    "summary-model",
		Estimator:       bigEstimator(),
	}

	current := State{Summary: "initial-summary", Facts: []string{"initial-fact"}}
	result, err := compactor.Compact(context.Background(), sctx, history, current, 1000, 100)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if !result.StateWrote {
		t.Fatalf("expected state to be written, got %+v", result)
	}
	if len(provider.requests) != 2 {
		t.Fatalf("expected 2 summarization calls (multi-part), got %d", len(provider.requests))
	}

	firstUser := lastMessageOfRole(provider.requests[0], agentcore.RoleUser)
	if !strings.Contains(firstUser, "initial-summary") {
		t.Fatalf("expected part 1's prompt to carry the pre-compaction summary, got %q", firstUser)
	}

	secondUser := lastMessageOfRole(provider.requests[1], agentcore.RoleUser)
	if !strings.Contains(secondUser, "part1 summary") {
		t.Fatalf("expected part 2's prompt to carry part 1's freshly generated summary, got %q", secondUser)
	}
	if strings.Contains(secondUser, "initial-summary") {
		t.Fatalf("part 2's prompt should see the running summary, not the stale pre-compaction one: %q", secondUser)
	}

	for i, req := range provider.requests {
		sys := firstMessageOfRole(req, agentcore.RoleSystem)
		if sys == "" {
			t.Fatalf("expected call %d to carry minimal system instructions, got none", i)
		}
	}

	if !strings.Contains(result.NewState.Facts[0], "fact") {
		t.Fatalf("expected merged facts to include extracted facts, got %+v", result.NewState.Facts)
	}
}

func TestCompact_NoOpWhenHistoryFitsInRecentWindow(t *testing.T) {
	store := newTestStore(t)
	sctx, _, err := store.Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sctx.Close()

	history := []Record{
		{Seq: 1, Role: "user", Content: "hi", Timestamp: 1},
		{Seq: 2, Role: "assistant", Content: "hello", Timestamp: 2},
	}
	provider := &scriptedSummaryProvider{}
	compactor := &Compactor{SummaryProvider: provider, Estimator: bigEstimator()}

	current := State{Summary: "s"}
	result, err := compactor.Compact(context.Background(), sctx, history, current, 1_000_000, 100)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if result.StateWrote {
		t.Fatal("expected no state write when nothing needs summarizing")
	}
	if len(provider.requests) != 0 {
		t.Fatalf("expected no summarization calls, got %d", len(provider.requests))
	}
}

func lastMessageOfRole(req agentcore.ChatRequest, role agentcore.Role) string {
	out := ""
	for _, m := range req.Messages {
		if m.Role == role {
			out = m.Content
		}
	}
	return out
}

func firstMessageOfRole(req agentcore.ChatRequest, role agentcore.Role) string {
	for _, m := range req.Messages {
		if m.Role == role {
			return m.Content
		}
	}
	return ""
}

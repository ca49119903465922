package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	agentcore "github.com/havenrun/agentcore"
	"github.com/havenrun/agentcore/internal/budget"
	"github.com/havenrun/agentcore/internal/prompt"
)

// summaryIdentity is the Minimal-mode identity for background
// summarization calls: no tool guidance or prompt packs, since the
// Summary Model never calls tools.
const summaryIdentity = "You summarize conversation history and extract durable facts for a tool-using agent runtime."

const (
	maxOlderTokensPerPart = 40000
	maxParts              = 3
	softMinRecentMessages = 6
)

// summaryResult is the JSON shape the Summary Model must return.
type summaryResult struct {
	Summary string   `json:"summary"`
	Facts   []string `json:"facts"`
}

// ArchiveItem is one long-term memory sink entry the compaction
// pipeline optionally publishes after a successful run.
type ArchiveItem struct {
	Scope      string   `json:"scope"` // "group"
	Type       string   `json:"type"`  // archive | fact
	Content    string   `json:"content"`
	Importance float64  `json:"importance"`
	Confidence float64  `json:"confidence"`
	Tags       []string `json:"tags,omitempty"`
}

// Sink is the out-of-scope long-term memory collaborator the
// compaction pipeline may publish archive items to. Long-term recall
// itself is a tool call the model makes, not something this module
// implements; Sink exists only so a host can wire one in.
type Sink interface {
	PublishArchiveItems(ctx context.Context, items []ArchiveItem) error
}

// Compactor runs the multi-part summarization procedure of §4.4,
// calling the Summary Model (any agentcore.Provider) for each part.
type Compactor struct {
	SummaryProvider agentcore.Provider
	SummaryModel    string
	MaxOutputTokens int
	Estimator       budget.Estimator
	Sink            Sink // optional
	Logger          *slog.Logger
}

// Result is the outcome of one compaction run.
type Result struct {
	NewHistory []Record
	NewState   State
	StateWrote bool
}

// Compact archives the full history, summarizes older messages in up to
// three parts, merges the result into state, and rewrites history to
// just the recent window. Summarization failures are logged and the
// run proceeds without a state update; history is rewritten to the
// recent window only if the state write succeeded.
func (c *Compactor) Compact(ctx context.Context, sctx SessionContext, history []Record, current State, adjustedRecentTokens int, timestamp int64) (Result, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := sctx.ArchiveConversation(history, current.Summary, timestamp); err != nil {
		return Result{}, fmt.Errorf("session: archive before compaction: %w", err)
	}

	older, recent := splitOlderRecent(history, adjustedRecentTokens, c.Estimator)

	if len(older) == 0 {
		return Result{NewHistory: history, NewState: current}, nil
	}

	olderTokens := 0
	for _, r := range older {
		olderTokens += c.Estimator.Message(r.Content)
	}

	numParts := 1
	if olderTokens > maxOlderTokensPerPart {
		numParts = int(math.Ceil(float64(olderTokens) / float64(maxOlderTokensPerPart)))
		if numParts > maxParts {
			numParts = maxParts
		}
	}
	parts := splitByTokenShare(older, numParts, c.Estimator)

	runningState := current
	var summaries []string
	for _, part := range parts {
		res, err := c.summarizePart(ctx, runningState, part)
		if err != nil {
			logger.Warn("compaction: summarize part failed, leaving state untouched", "error", err)
			return Result{NewHistory: history, NewState: current}, nil
		}
		summaries = append(summaries, res.Summary)
		runningState.Facts = MergeFacts(runningState.Facts, res.Facts)
		runningState.Summary = res.Summary
	}

	mergedSummary := joinSpace(summaries)
	lastSeq := older[len(older)-1].Seq

	newState := State{
		Summary:        mergedSummary,
		Facts:          runningState.Facts,
		LastSummarySeq: lastSeq,
	}
	if newState.LastSummarySeq < current.LastSummarySeq {
		newState.LastSummarySeq = current.LastSummarySeq
	}

	if err := sctx.SaveState(newState); err != nil {
		return Result{}, fmt.Errorf("session: save compacted state: %w", err)
	}

	if err := sctx.WriteHistory(recent); err != nil {
		return Result{}, fmt.Errorf("session: rewrite recent history: %w", err)
	}

	if c.Sink != nil {
		items := make([]ArchiveItem, 0, len(newState.Facts)+1)
		items = append(items, ArchiveItem{Scope: "group", Type: "archive", Content: mergedSummary, Importance: 0.5, Confidence: 0.8})
		for _, f := range newState.Facts {
			items = append(items, ArchiveItem{Scope: "group", Type: "fact", Content: f, Importance: 0.6, Confidence: 0.8})
		}
		if err := c.Sink.PublishArchiveItems(ctx, items); err != nil {
			logger.Warn("compaction: publish to sink failed", "error", err)
		}
	}

	return Result{NewHistory: recent, NewState: newState, StateWrote: true}, nil
}

func (c *Compactor) summarizePart(ctx context.Context, state State, part []Record) (summaryResult, error) {
	instructions := prompt.Minimal(prompt.Params{Identity: summaryIdentity})
	userPrompt := buildSummaryPrompt(state, part)
	resp, err := c.SummaryProvider.Chat(ctx, agentcore.ChatRequest{
		Model: c.SummaryModel,
		Messages: []agentcore.ChatMessage{
			{Role: agentcore.RoleSystem, Content: instructions},
			{Role: agentcore.RoleUser, Content: userPrompt},
		},
		MaxOutputTokens: c.MaxOutputTokens,
		ResponseSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"summary": map[string]any{"type": "string"},
				"facts":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
			"required": []string{"summary", "facts"},
		},
	})
	if err != nil {
		return summaryResult{}, err
	}
	var res summaryResult
	if err := json.Unmarshal([]byte(resp.Text), &res); err != nil {
		return summaryResult{}, fmt.Errorf("session: parse summary JSON: %w", err)
	}
	return res, nil
}

func buildSummaryPrompt(state State, part []Record) string {
	s := "Existing summary: " + state.Summary + "\n"
	s += "Existing facts: " + joinComma(state.Facts) + "\n\n"
	s += "Summarize the following conversation segment and extract any new durable facts.\n\n"
	for _, r := range part {
		s += fmt.Sprintf("[%s] %s\n", r.Role, r.Content)
	}
	return s
}

func joinSpace(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

// splitOlderRecent splits history into everything before the recent
// window and the recent window itself, chosen to fit in
// adjustedRecentTokens while honoring a soft minimum of
// softMinRecentMessages where history is long enough to supply it.
func splitOlderRecent(history []Record, adjustedRecentTokens int, estimator budget.Estimator) (older, recent []Record) {
	if len(history) <= softMinRecentMessages {
		return nil, history
	}

	total := 0
	cut := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		total += estimator.Message(history[i].Content)
		if total > adjustedRecentTokens && len(history)-i > softMinRecentMessages {
			cut = i + 1
			break
		}
		cut = i
	}
	return history[:cut], history[cut:]
}

// splitByTokenShare divides older into numParts contiguous chunks,
// each holding roughly an equal token share.
func splitByTokenShare(older []Record, numParts int, estimator budget.Estimator) [][]Record {
	if numParts <= 1 {
		return [][]Record{older}
	}
	total := 0
	for _, r := range older {
		total += estimator.Message(r.Content)
	}
	target := total / numParts
	if target <= 0 {
		target = 1
	}

	var parts [][]Record
	var current []Record
	acc := 0
	for _, r := range older {
		current = append(current, r)
		acc += estimator.Message(r.Content)
		if acc >= target && len(parts) < numParts-1 {
			parts = append(parts, current)
			current = nil
			acc = 0
		}
	}
	if len(current) > 0 {
		parts = append(parts, current)
	}
	return parts
}

// Package toolloop implements the self-driven Tool-Execution Loop: the
// SDK's built-in loop discards the full conversation on follow-up
// calls, which breaks reasoning models that produce short tool-result
// turns, so this package supplies schema-only tool descriptors and
// rebuilds the complete conversation every round itself.
package toolloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	agentcore "github.com/havenrun/agentcore"
)

// Config tunes livelock detection, retry behavior, and context pruning
// for one Loop.
type Config struct {
	MaxToolSteps                 int
	IdempotentRetryAttempts      int
	IdempotentRetryBackoffMs     int
	RepeatedSignatureThreshold   int
	RepeatedRoundThreshold       int
	NonRetryableFailureThreshold int
	ForceSynthesisAfterTools     bool
	ContextLength                int
	Pruning                      PruningConfig
}

// StreamSink receives incremental text deltas as the loop extracts them
// from each model response, and is told when the run finishes or
// fails. A nil StreamSink means streaming is disabled for this run.
type StreamSink interface {
	WriteChunk(delta string) error
	Done() error
	Error(msg string) error
}

// Loop drives one bounded tool-using conversation against a Provider
// and ToolRegistry.
type Loop struct {
	Provider agentcore.Provider
	Registry *agentcore.ToolRegistry
	Config   Config
}

// Result is the outcome of one Run.
type Result struct {
	Text                     string
	ReplyToID                string
	ConversationInput        []agentcore.ChatMessage
	ToolCalls                []agentcore.ToolCallRecord
	ToolRetryAttempts        int
	ToolLoopBreakerTriggered bool
	ToolLoopBreakerReason    string
	Usage                    agentcore.Usage
}

// Run executes the full tool-execution loop for one turn: initial
// call, mandatory-tool nudge/fallback, tool rounds with livelock
// detection and policy enforcement, forced synthesis, fallback text,
// and reply-tag parsing.
func (l *Loop) Run(ctx context.Context, instructions string, input []agentcore.ChatMessage, model string, temperature float64, maxOutputTokens int, reasoningEffort string, policy agentcore.ToolPolicy, prompt string, stream StreamSink) (Result, error) {
	conversationInput := append([]agentcore.ChatMessage{}, input...)
	toolDefs := l.Registry.Definitions()

	step := 0
	var callSignatureCounts = make(map[string]int)
	var previousRoundSignature string
	var repeatedRoundCount int
	var toolLoopBreakerTriggered bool
	var toolLoopBreakerReason string
	var toolRetryAttempts int
	var nonRetryableFailures int
	var allRecords []agentcore.ToolCallRecord
	var totalUsage agentcore.Usage

	call := func(msgs []agentcore.ChatMessage, tools []agentcore.ToolDefinition) (agentcore.ChatResponse, error) {
		req := agentcore.ChatRequest{
			Model:           model,
			Messages:        append([]agentcore.ChatMessage{{Role: agentcore.RoleSystem, Content: instructions}}, msgs...),
			Tools:           tools,
			Temperature:     temperature,
			MaxOutputTokens: maxOutputTokens,
			ReasoningEffort: reasoningEffort,
		}
		if stream != nil {
			ch := make(chan agentcore.StreamEvent, 16)
			done := make(chan struct{})
			var resp agentcore.ChatResponse
			var err error
			go func() {
				resp, err = l.Provider.ChatStream(ctx, req, ch)
				close(done)
			}()
			for ev := range ch {
				if ev.Delta != "" {
					_ = stream.WriteChunk(ev.Delta)
				}
			}
			<-done
			if err != nil {
				_ = stream.Error(err.Error())
			}
			return resp, err
		}
		return l.Provider.Chat(ctx, req)
	}

	// 1. Initial call.
	resp, err := call(conversationInput, toolDefs)
	if err != nil {
		return Result{}, fmt.Errorf("toolloop: initial call: %w", err)
	}
	totalUsage.PromptTokens += resp.Usage.PromptTokens
	totalUsage.CompletionTokens += resp.Usage.CompletionTokens

	// 2. Extract.
	text := resp.Text
	pendingCalls := resp.PendingCalls

	// 3. Mandatory-tool nudge and deterministic fallback.
	required, memoryOnly := RequiresToolExecution(prompt)
	hasPriorToolHistory := hasToolHistory(conversationInput)
	if required && !memoryOnly && len(pendingCalls) == 0 && !hasPriorToolHistory {
		for attempt := 0; attempt < 2 && len(pendingCalls) == 0; attempt++ {
			conversationInput = append(conversationInput, agentcore.ChatMessage{Role: agentcore.RoleAssistant, Content: text})
			conversationInput = append(conversationInput, agentcore.ChatMessage{Role: agentcore.RoleUser, Content: "This task requires using the available tools. Please call the appropriate tool now."})
			resp, err = call(conversationInput, toolDefs)
			if err != nil {
				return Result{}, fmt.Errorf("toolloop: nudge call: %w", err)
			}
			totalUsage.PromptTokens += resp.Usage.PromptTokens
			totalUsage.CompletionTokens += resp.Usage.CompletionTokens
			text = resp.Text
			pendingCalls = resp.PendingCalls
		}

		if len(pendingCalls) == 0 {
			if steps := deterministicFallback(prompt); steps != nil {
				fallbackMsgs, summary, records := runFallback(ctx, l.Registry, steps)
				conversationInput = append(conversationInput, fallbackMsgs...)
				allRecords = append(allRecords, records...)
				return Result{
					Text:              summary,
					ConversationInput: conversationInput,
					ToolCalls:         allRecords,
					Usage:             totalUsage,
				}, nil
			}
		}
	}

	// 4. Tool-round loop.
	for len(pendingCalls) > 0 && step < l.Config.MaxToolSteps {
		rSig := roundSignature(pendingCalls)
		if rSig == previousRoundSignature {
			repeatedRoundCount++
		} else {
			repeatedRoundCount = 1
			previousRoundSignature = rSig
		}
		if l.Config.RepeatedRoundThreshold > 0 && repeatedRoundCount >= l.Config.RepeatedRoundThreshold {
			toolLoopBreakerTriggered = true
			toolLoopBreakerReason = fmt.Sprintf("repeated_round_signature(%d)", repeatedRoundCount)
			break
		}

		breakerHit := false
		for _, c := range pendingCalls {
			sig := callSignature(c)
			callSignatureCounts[sig]++
			if l.Config.RepeatedSignatureThreshold > 0 && callSignatureCounts[sig] >= l.Config.RepeatedSignatureThreshold {
				toolLoopBreakerTriggered = true
				toolLoopBreakerReason = fmt.Sprintf("repeated_call_signature(%d): %s", callSignatureCounts[sig], c.Name)
				breakerHit = true
				break
			}
		}
		if breakerHit {
			break
		}

		currentRoundStart := len(conversationInput)
		ps := newPolicyStateFromCounts(policy, allRecords)

		// Calls within a round fire strictly in the order the model
		// returned them: an earlier failure must be able to influence
		// the breaker decision for the calls that follow it in the
		// same round.
		for _, c := range pendingCalls {
			// Each executed call is one step of the MaxToolSteps budget.
			if step >= l.Config.MaxToolSteps {
				break
			}
			step++
			result, retries := l.executeCall(ctx, ps, c)
			toolRetryAttempts += retries
			allRecords = append(allRecords, result.ToolCallRecord)

			if !result.OK && isNonRetryable(result.Error) {
				nonRetryableFailures++
			}

			conversationInput = append(conversationInput, agentcore.ChatMessage{
				Type: "function_call", CallID: c.ID, ToolName: c.Name, ToolArgs: c.Args,
			})
			conversationInput = append(conversationInput, agentcore.ChatMessage{
				Type: "function_call_output", CallID: c.ID, ToolOutput: result.outputText,
			})

			if l.Config.NonRetryableFailureThreshold > 0 && nonRetryableFailures >= l.Config.NonRetryableFailureThreshold {
				break
			}
		}

		if l.Config.NonRetryableFailureThreshold > 0 && nonRetryableFailures >= l.Config.NonRetryableFailureThreshold {
			toolLoopBreakerTriggered = true
			toolLoopBreakerReason = fmt.Sprintf("non_retryable_failures(%d)", nonRetryableFailures)
			break
		}

		// e. Soft-trim older tool payloads.
		conversationInput = softTrimOlderToolOutputs(conversationInput, currentRoundStart, l.Config.Pruning)

		// f. Drop initial context messages if still too large.
		conversationInput = dropInitialContextMessages(conversationInput, l.Config.ContextLength, 0.45, estimateRough)

		// g. Follow-up call with context-overflow hard-clear-and-retry-once.
		resp, err = call(conversationInput, toolDefs)
		if err != nil {
			if isContextOverflow(err) {
				conversationInput = hardClearOlderToolOutputs(conversationInput, currentRoundStart)
				conversationInput = dropInitialContextMessages(conversationInput, l.Config.ContextLength, 0.45, estimateRough)
				resp, err = call(conversationInput, toolDefs)
			}
			if err != nil {
				return Result{}, fmt.Errorf("toolloop: follow-up call: %w", err)
			}
		}
		totalUsage.PromptTokens += resp.Usage.PromptTokens
		totalUsage.CompletionTokens += resp.Usage.CompletionTokens

		text = resp.Text
		pendingCalls = resp.PendingCalls
	}

	// 5. Forced synthesis.
	hadToolRun := len(allRecords) > 0
	if l.Config.ForceSynthesisAfterTools && hadToolRun && (toolLoopBreakerTriggered || len(pendingCalls) > 0 || text == "") {
		conversationInput = append(conversationInput, agentcore.ChatMessage{
			Role:    agentcore.RoleUser,
			Content: "Synthesize the final answer now using only the tool outputs already executed above. Do not call any more tools.",
		})
		resp, err = call(conversationInput, nil)
		if err == nil {
			text = resp.Text
			totalUsage.PromptTokens += resp.Usage.PromptTokens
			totalUsage.CompletionTokens += resp.Usage.CompletionTokens
		}
	}

	// 6. Fallback text.
	if text == "" {
		text = fallbackText(toolLoopBreakerTriggered, toolLoopBreakerReason, allRecords)
	}

	// 7. Reply-tag parsing.
	text, replyToID := parseReplyTag(text)

	return Result{
		Text:                     text,
		ReplyToID:                replyToID,
		ConversationInput:        conversationInput,
		ToolCalls:                allRecords,
		ToolRetryAttempts:        toolRetryAttempts,
		ToolLoopBreakerTriggered: toolLoopBreakerTriggered,
		ToolLoopBreakerReason:    toolLoopBreakerReason,
		Usage:                    totalUsage,
	}, nil
}

// execResult is the internal outcome of one gated/retried tool call.
type execResult struct {
	agentcore.ToolCallRecord
	outputText string
}

func newPolicyStateFromCounts(policy agentcore.ToolPolicy, prior []agentcore.ToolCallRecord) *policyState {
	ps := newPolicyState(policy)
	for _, r := range prior {
		if r.OK {
			ps.counts[strings.ToLower(r.Name)]++
		}
	}
	return ps
}

// executeCall runs one pending call through the policy gate, a JSON
// validity check of its arguments, and idempotent retry, returning a
// record plus the number of retry attempts actually made. The tool's
// output is passed on whole: no size bound is applied and
// OutputTruncated is never set.
func (l *Loop) executeCall(ctx context.Context, ps *policyState, c agentcore.ToolCall) (execResult, int) {
	start := time.Now()

	if err := ps.check(c.Name); err != nil {
		return execResult{
			ToolCallRecord: agentcore.ToolCallRecord{Name: c.Name, Args: c.Args, OK: false, Error: err.Error(), DurationMS: time.Since(start).Milliseconds()},
			outputText:     fmt.Sprintf(`{"error":%q}`, err.Error()),
		}, 0
	}

	tool := l.Registry.Get(c.Name)
	if tool == nil {
		msg := fmt.Sprintf("unknown tool %q", c.Name)
		return execResult{
			ToolCallRecord: agentcore.ToolCallRecord{Name: c.Name, Args: c.Args, OK: false, Error: msg, DurationMS: time.Since(start).Milliseconds()},
			outputText:     fmt.Sprintf(`{"error":%q}`, msg),
		}, 0
	}

	args := c.Args
	if !isValidJSON(args) {
		msg := "malformed arguments: not valid JSON"
		return execResult{
			ToolCallRecord: agentcore.ToolCallRecord{Name: c.Name, Args: args, OK: false, Error: msg, DurationMS: time.Since(start).Milliseconds()},
			outputText:     fmt.Sprintf(`{"error":%q}`, msg),
		}, 0
	}

	retries := 0
	var output string
	var execErr error
	attempts := 1
	if tool.Idempotent() && l.Config.IdempotentRetryAttempts > 0 {
		attempts += l.Config.IdempotentRetryAttempts
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		output, execErr = tool.Execute(ctx, args)
		if execErr == nil {
			break
		}
		if !tool.Idempotent() || !isTransient(execErr.Error()) || attempt == attempts {
			break
		}
		retries++
		backoff := time.Duration(l.Config.IdempotentRetryBackoffMs*attempt) * time.Millisecond
		if backoff > 2*time.Second {
			backoff = 2 * time.Second
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			execErr = ctx.Err()
		}
	}

	record := agentcore.ToolCallRecord{Name: c.Name, Args: args, DurationMS: time.Since(start).Milliseconds()}
	if execErr != nil {
		record.Error = execErr.Error()
		return execResult{ToolCallRecord: record, outputText: fmt.Sprintf(`{"error":%q}`, execErr.Error())}, retries
	}

	record.OK = true
	record.OutputBytes = len(output)
	return execResult{ToolCallRecord: record, outputText: output}, retries
}

func hasToolHistory(input []agentcore.ChatMessage) bool {
	for _, m := range input {
		if m.Type == "function_call" {
			return true
		}
	}
	return false
}

func estimateRough(msgs []agentcore.ChatMessage) int {
	total := 0
	for _, m := range msgs {
		total += len(m.Content) + len(m.ToolArgs) + len(m.ToolOutput)
	}
	return total / 4
}

func isContextOverflow(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, p := range []string{"maximum context length", "context length exceeded", "too many tokens"} {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func isValidJSON(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return true
	}
	return json.Valid([]byte(s))
}

func fallbackText(breakerTriggered bool, reason string, records []agentcore.ToolCallRecord) string {
	var b strings.Builder
	if breakerTriggered {
		fmt.Fprintf(&b, "I wasn't able to finish this safely (%s). ", reason)
	} else {
		b.WriteString("I wasn't able to produce a final answer. ")
	}
	if len(records) > 0 {
		b.WriteString("Here is what the tools returned:\n")
		for _, r := range records {
			if r.OK {
				fmt.Fprintf(&b, "- %s: ok\n", r.Name)
			} else {
				fmt.Fprintf(&b, "- %s: %s\n", r.Name, r.Error)
			}
		}
	}
	return strings.TrimSpace(b.String())
}

var replyToPrefix = "[[reply_to:"

func parseReplyTag(text string) (string, string) {
	if strings.Contains(text, "[[reply_to_current]]") {
		return strings.TrimSpace(strings.ReplaceAll(text, "[[reply_to_current]]", "")), "current"
	}
	idx := strings.Index(text, replyToPrefix)
	if idx < 0 {
		return text, ""
	}
	rest := text[idx+len(replyToPrefix):]
	end := strings.Index(rest, "]]")
	if end < 0 {
		return text, ""
	}
	id := rest[:end]
	if _, err := strconv.Atoi(id); err != nil {
		return text, ""
	}
	cleaned := text[:idx] + rest[end+2:]
	return strings.TrimSpace(cleaned), id
}

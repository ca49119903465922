package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	agentcore "github.com/havenrun/agentcore"
	"github.com/havenrun/agentcore/internal/budget"
	"github.com/havenrun/agentcore/internal/config"
	"github.com/havenrun/agentcore/internal/prompt"
	"github.com/havenrun/agentcore/internal/protocol"
	"github.com/havenrun/agentcore/internal/router"
	"github.com/havenrun/agentcore/internal/session"
	"github.com/havenrun/agentcore/internal/toolloop"
)

// Worker executes one request end to end: session load, budget
// computation, system-prompt assembly, the routed tool-execution loop,
// history/state persistence, and response construction. A Worker is
// stateless between requests; all per-run state lives in the Context
// returned by Store.Open.
type Worker struct {
	Provider agentcore.Provider
	Sessions session.Store
	Registry *agentcore.ToolRegistry
	Router   *router.Router
	Config   config.Config
	Logger   *slog.Logger

	// Extractor runs fire-and-forget memory extraction after a
	// successful run, when enabled. Nil disables extraction entirely.
	Extractor func(sessionID string, history []session.Record)
}

// Run implements daemon.RunFunc.
func (w *Worker) Run(ctx context.Context, id string, req agentcore.Request) agentcore.Response {
	start := time.Now()
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if req.Prompt == "" {
		return protocol.ErrorResponse("validation: prompt is required")
	}

	sctx, isNew, err := w.Sessions.Open(req.SessionID)
	if err != nil {
		return protocol.ErrorResponse(fmt.Sprintf("session: %v", err))
	}
	defer sctx.Close()

	history, err := sctx.LoadHistory()
	if err != nil {
		return protocol.ErrorResponse(fmt.Sprintf("session: %v", err))
	}
	state, err := sctx.LoadState()
	if err != nil {
		return protocol.ErrorResponse(fmt.Sprintf("session: %v", err))
	}

	contextLength := req.ModelCapabilities.ContextLength
	if contextLength <= 0 {
		contextLength = w.Config.Models.ContextLength
	}
	budgets := budget.Compute(contextLength, budget.Config{
		ExplicitMaxOutput:      req.ModelMaxOutputTokens,
		ConfiguredRecentTokens: w.Config.Context.RecentContextTokens,
		IsScheduledTask:        req.IsScheduledTask,
	})

	tokenEstimateCfg := req.TokenEstimate
	if tokenEstimateCfg.TokensPerChar == 0 {
		tokenEstimateCfg = w.Config.TokenEstimate
	}
	estimator := budget.NewEstimator(tokenEstimateCfg)

	if session.ShouldCompact(estimator.Messages(historyToMessages(history)), budgets.CompactionTriggerTokens) {
		compactor := &session.Compactor{
			SummaryProvider: w.Provider,
			SummaryModel:    w.Config.Models.SummaryModel,
			MaxOutputTokens: w.Config.Models.SummaryMaxOutputTokens,
			Estimator:       estimator,
			Logger:          logger,
		}
		result, cerr := compactor.Compact(ctx, sctx, history, state, budgets.RecentContextTokens, time.Now().UnixMilli())
		if cerr != nil {
			logger.Warn("worker: compaction failed, proceeding uncompacted", "error", cerr)
		} else {
			history = result.NewHistory
			state = result.NewState
		}
	}

	history = session.LimitHistoryTurns(history, w.Config.Context.MaxHistoryTurns)

	promptParams := prompt.Params{
		Identity:        "You are a capable, tool-using assistant operating inside a bounded runtime.",
		HostPlatform:    req.HostPlatform,
		IsScheduledTask: req.IsScheduledTask,
		Timezone:        req.Timezone,
		MemorySummary:   state.Summary,
		MemoryFacts:     state.Facts,
		UserProfile:     req.UserProfile,
		MaxToolSteps:    effectiveMaxToolSteps(req.MaxToolSteps, w.Config.ToolLoop.MaxToolSteps),
	}

	instructions, _, _ := budget.BuildSystemPrompt(func(level int) string {
		return prompt.Build(promptParams, level)
	}, estimator, budgets.SystemPromptShare)

	conversationInput := historyToMessages(history)
	conversationInput = append(conversationInput, agentcore.ChatMessage{Role: agentcore.RoleUser, Content: req.Prompt})
	conversationInput, _ = budget.AssembleContext(conversationInput, budgets, estimator, 0.35)

	policy := mergePolicy(req.ToolPolicy, w.Config.ToolPolicy)

	temperature := w.Config.Models.Temperature
	if req.ModelTemperature != nil {
		temperature = *req.ModelTemperature
	}
	maxOutput := req.ModelMaxOutputTokens
	if maxOutput <= 0 {
		maxOutput = w.Config.Models.MaxOutputTokens
	}
	maxOutput = toolloop.OutputCap(req.Prompt, maxOutput)

	reasoningEffort := req.ReasoningEffort
	if reasoningEffort == "" {
		reasoningEffort = w.Config.Reasoning.Effort
	}

	registry := w.Registry
	if req.DisableTools {
		registry = agentcore.NewToolRegistry()
	}

	loop := &toolloop.Loop{
		Provider: w.Provider,
		Registry: registry,
		Config: toolloop.Config{
			MaxToolSteps:                 effectiveMaxToolSteps(req.MaxToolSteps, w.Config.ToolLoop.MaxToolSteps),
			IdempotentRetryAttempts:      w.Config.ToolLoop.IdempotentRetryAttempts,
			IdempotentRetryBackoffMs:     w.Config.ToolLoop.IdempotentRetryBackoffMs,
			RepeatedSignatureThreshold:   w.Config.ToolLoop.RepeatedSignatureThreshold,
			RepeatedRoundThreshold:       w.Config.ToolLoop.RepeatedRoundThreshold,
			NonRetryableFailureThreshold: w.Config.ToolLoop.NonRetryableFailureThreshold,
			ForceSynthesisAfterTools:     w.Config.ToolLoop.ForceSynthesisAfterTools,
			ContextLength:                contextLength,
			Pruning: toolloop.PruningConfig{
				SoftTrimMaxChars:  w.Config.Context.ContextPruning.SoftTrimMaxChars,
				SoftTrimHeadChars: w.Config.Context.ContextPruning.SoftTrimHeadChars,
				SoftTrimTailChars: w.Config.Context.ContextPruning.SoftTrimTailChars,
			},
		},
	}

	var stream toolloop.StreamSink
	if !req.DisableStream && req.StreamDir != "" {
		sw, serr := protocol.NewStreamWriter(req.StreamDir)
		if serr == nil {
			stream = sw
		}
	}

	chain := router.Chain(firstNonEmpty(req.ModelOverride, w.Config.Models.Primary), req.ModelFallbacks)

	call := func(ctx context.Context, model string) (toolloop.Result, error) {
		return loop.Run(ctx, instructions, conversationInput, model, temperature, maxOutput, reasoningEffort, policy, req.Prompt, stream)
	}
	recoverOverflow := func(ctx context.Context, model string) (toolloop.Result, error) {
		recovered, rinstructions := w.recoverFromOverflow(ctx, conversationInput, instructions, estimator, logger)
		return loop.Run(ctx, rinstructions, recovered, model, temperature, maxOutput, reasoningEffort, policy, req.Prompt, stream)
	}

	outcome, err := router.Route(w.Router, ctx, chain, call, recoverOverflow)
	if err != nil {
		if stream != nil {
			_ = stream.Error(err.Error())
		}
		return protocol.ErrorResponse(err.Error())
	}
	result := outcome.Result

	if stream != nil {
		_ = stream.Done()
	}

	now := time.Now().UnixMilli()
	if _, err := sctx.AppendHistory("user", req.Prompt, now); err != nil {
		logger.Warn("worker: append user history failed", "error", err)
	}
	if _, err := sctx.AppendHistory("assistant", result.Text, now); err != nil {
		logger.Warn("worker: append assistant history failed", "error", err)
	}

	if w.Extractor != nil && w.Config.Memory.Extraction.Enabled && (!req.IsScheduledTask || w.Config.Memory.ExtractScheduled) {
		finalHistory, _ := sctx.LoadHistory()
		go w.Extractor(sctx.SessionID(), finalHistory)
	}

	resultText := result.Text
	resp := agentcore.Response{
		Status:                   agentcore.StatusSuccess,
		Result:                   &resultText,
		Model:                    outcome.Model,
		MemorySummary:            state.Summary,
		MemoryFacts:              state.Facts,
		TokensPrompt:             result.Usage.PromptTokens,
		TokensCompletion:         result.Usage.CompletionTokens,
		ToolCalls:                result.ToolCalls,
		ToolRetryAttempts:        result.ToolRetryAttempts,
		ToolLoopBreakerTriggered: result.ToolLoopBreakerTriggered,
		ToolLoopBreakerReason:    result.ToolLoopBreakerReason,
		LatencyMS:                time.Since(start).Milliseconds(),
		ReplyToID:                result.ReplyToID,
	}
	if isNew {
		resp.NewSessionID = sctx.SessionID()
	}
	return resp
}

// recoverFromOverflow implements §4.9's context-overflow recovery plan:
// split the current conversation into an older toCompact slice and a
// toKeep slice of the four most recent messages, summarize toCompact
// with the Summary Model, and rebuild instructions at trim level 4
// with the new summary injected.
func (w *Worker) recoverFromOverflow(ctx context.Context, input []agentcore.ChatMessage, instructions string, estimator budget.Estimator, logger *slog.Logger) ([]agentcore.ChatMessage, string) {
	const keepCount = 4
	if len(input) <= keepCount {
		return input, instructions
	}
	toCompact := input[:len(input)-keepCount]
	toKeep := input[len(input)-keepCount:]

	var sb strings.Builder
	for _, m := range toCompact {
		text := m.Content
		if text == "" {
			text = m.ToolOutput
		}
		fmt.Fprintf(&sb, "[%s] %s\n", m.Role, text)
	}

	summaryInstructions := prompt.Minimal(prompt.Params{Identity: "You summarize conversation history concisely for emergency context recovery."})
	summaryResp, err := w.Provider.Chat(ctx, agentcore.ChatRequest{
		Model: w.Config.Models.SummaryModel,
		Messages: []agentcore.ChatMessage{
			{Role: agentcore.RoleSystem, Content: summaryInstructions},
			{Role: agentcore.RoleUser, Content: "Summarize this conversation segment concisely:\n\n" + sb.String()},
		},
		MaxOutputTokens: w.Config.Models.SummaryMaxOutputTokens,
	})
	summary := ""
	if err != nil {
		logger.Warn("worker: emergency compaction summary failed", "error", err)
	} else {
		summary = summaryResp.Text
	}

	rebuilt := prompt.Build(prompt.Params{
		Identity:      "You are a capable, tool-using assistant operating inside a bounded runtime.",
		MemorySummary: summary,
	}, budget.MaxTrimLevel)

	out := append([]agentcore.ChatMessage{{Role: agentcore.RoleUser, Content: "(earlier conversation summarized: " + summary + ")"}}, toKeep...)
	return out, rebuilt
}

func historyToMessages(history []session.Record) []agentcore.ChatMessage {
	out := make([]agentcore.ChatMessage, 0, len(history))
	for _, r := range history {
		role := agentcore.RoleUser
		if r.Role == "assistant" {
			role = agentcore.RoleAssistant
		}
		out = append(out, agentcore.ChatMessage{Role: role, Content: r.Content, Timestamp: r.Timestamp})
	}
	return out
}

func effectiveMaxToolSteps(requested, configured int) int {
	if requested > 0 {
		return requested
	}
	return configured
}

func mergePolicy(req agentcore.ToolPolicy, cfg config.ToolPolicyConfig) agentcore.ToolPolicy {
	policy := agentcore.ToolPolicy{
		Allow:            req.Allow,
		Deny:             req.Deny,
		MaxPerRun:        req.MaxPerRun,
		DefaultMaxPerRun: req.DefaultMaxPerRun,
	}
	if len(policy.Allow) == 0 {
		policy.Allow = cfg.Allow
	}
	if len(policy.Deny) == 0 {
		policy.Deny = cfg.Deny
	}
	if policy.MaxPerRun == nil {
		policy.MaxPerRun = cfg.MaxPerRun
	}
	if policy.DefaultMaxPerRun == 0 {
		policy.DefaultMaxPerRun = cfg.DefaultMaxPerRun
	}
	return policy
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

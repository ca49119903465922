package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	agentcore "github.com/havenrun/agentcore"
)

var (
	attrModel    = attribute.Key("agentcore.model")
	attrProvider = attribute.Key("agentcore.provider")
	attrToolName = attribute.Key("agentcore.tool.name")
	attrStatus   = attribute.Key("status")
)

// ObservedProvider wraps an agentcore.Provider, recording a span plus
// request/duration/token metrics around every Chat and ChatStream call.
type ObservedProvider struct {
	inner agentcore.Provider
	inst  *Instruments
}

// WrapProvider returns an instrumented Provider.
func WrapProvider(inner agentcore.Provider, inst *Instruments) *ObservedProvider {
	return &ObservedProvider{inner: inner, inst: inst}
}

func (o *ObservedProvider) Name() string { return o.inner.Name() }

func (o *ObservedProvider) Chat(ctx context.Context, req agentcore.ChatRequest) (agentcore.ChatResponse, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.chat", trace.WithAttributes(
		attrModel.String(req.Model), attrProvider.String(o.inner.Name()),
	))
	defer span.End()
	start := time.Now()

	resp, err := o.inner.Chat(ctx, req)
	o.record(ctx, span, "chat", req.Model, start, resp.Usage, err)
	return resp, err
}

func (o *ObservedProvider) ChatStream(ctx context.Context, req agentcore.ChatRequest, ch chan<- agentcore.StreamEvent) (agentcore.ChatResponse, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.chat_stream", trace.WithAttributes(
		attrModel.String(req.Model), attrProvider.String(o.inner.Name()),
	))
	defer span.End()
	start := time.Now()

	resp, err := o.inner.ChatStream(ctx, req, ch)
	o.record(ctx, span, "chat_stream", req.Model, start, resp.Usage, err)
	return resp, err
}

func (o *ObservedProvider) record(ctx context.Context, span trace.Span, method, model string, start time.Time, usage agentcore.Usage, err error) {
	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	attrs := metric.WithAttributes(attrModel.String(model), attrProvider.String(o.inner.Name()), attribute.String("method", method), attrStatus.String(status))
	o.inst.LLMRequests.Add(ctx, 1, attrs)
	o.inst.LLMDuration.Record(ctx, durationMs, attrs)
	o.inst.TokenUsage.Add(ctx, int64(usage.PromptTokens), metric.WithAttributes(attrModel.String(model), attribute.String("direction", "prompt")))
	o.inst.TokenUsage.Add(ctx, int64(usage.CompletionTokens), metric.WithAttributes(attrModel.String(model), attribute.String("direction", "completion")))

	span.SetAttributes(
		attribute.Int("agentcore.tokens.prompt", usage.PromptTokens),
		attribute.Int("agentcore.tokens.completion", usage.CompletionTokens),
	)
}

var _ agentcore.Provider = (*ObservedProvider)(nil)

// ObservedTool wraps an agentcore.Tool, recording a span plus
// execution-count/duration metrics around every Execute call.
type ObservedTool struct {
	inner agentcore.Tool
	inst  *Instruments
}

// WrapTool returns an instrumented Tool.
func WrapTool(inner agentcore.Tool, inst *Instruments) *ObservedTool {
	return &ObservedTool{inner: inner, inst: inst}
}

func (o *ObservedTool) Definition() agentcore.ToolDefinition { return o.inner.Definition() }
func (o *ObservedTool) Idempotent() bool                    { return o.inner.Idempotent() }

func (o *ObservedTool) Execute(ctx context.Context, args string) (string, error) {
	name := o.inner.Definition().Name
	ctx, span := o.inst.Tracer.Start(ctx, "tool.execute", trace.WithAttributes(attrToolName.String(name)))
	defer span.End()
	start := time.Now()

	result, err := o.inner.Execute(ctx, args)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("status", status), attribute.Int("agentcore.tool.result_length", len(result)))

	attrs := metric.WithAttributes(attrToolName.String(name), attrStatus.String(status))
	o.inst.ToolExecutions.Add(ctx, 1, attrs)
	o.inst.ToolDuration.Record(ctx, durationMs, metric.WithAttributes(attrToolName.String(name)))

	return result, err
}

var _ agentcore.Tool = (*ObservedTool)(nil)

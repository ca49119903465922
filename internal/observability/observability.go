// Package observability wires OpenTelemetry trace and metric exporters
// for the runtime and provides agentcore.Tracer/Span adapters plus
// decorator wrappers for Provider and Tool, so tool executions and LLM
// calls surface as spans and metrics without those packages importing
// OTEL directly. The router and daemon instruments in Instruments are
// created, but nothing in this module records to them.
package observability

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/havenrun/agentcore/internal/observability"

// Instruments holds the OTEL meter instruments the wrappers record
// against. One Instruments is shared process-wide.
type Instruments struct {
	Tracer trace.Tracer

	LLMRequests    metric.Int64Counter
	LLMDuration    metric.Float64Histogram
	TokenUsage     metric.Int64Counter
	ToolExecutions metric.Int64Counter
	ToolDuration   metric.Float64Histogram
	RouterAdvances metric.Int64Counter
	DaemonRequests metric.Int64Counter
	DaemonDuration metric.Float64Histogram
}

// Init configures OTEL trace and metric providers with OTLP HTTP
// exporters (standard OTEL_EXPORTER_OTLP_* env vars) and returns the
// shared Instruments plus a shutdown function to call on exit.
func Init(ctx context.Context, serviceName string) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	inst, err := newInstruments()
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}
	return inst, shutdown, nil
}

func newInstruments() (*Instruments, error) {
	tracer := otel.Tracer(scopeName)
	meter := otel.Meter(scopeName)

	llmRequests, err := meter.Int64Counter("agentcore.llm.requests",
		metric.WithDescription("LLM call count"), metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	llmDuration, err := meter.Float64Histogram("agentcore.llm.duration",
		metric.WithDescription("LLM call duration"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	tokenUsage, err := meter.Int64Counter("agentcore.llm.token_usage",
		metric.WithDescription("Tokens consumed"), metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}
	toolExecutions, err := meter.Int64Counter("agentcore.tool.executions",
		metric.WithDescription("Tool execution count"), metric.WithUnit("{execution}"))
	if err != nil {
		return nil, err
	}
	toolDuration, err := meter.Float64Histogram("agentcore.tool.duration",
		metric.WithDescription("Tool execution duration"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	routerAdvances, err := meter.Int64Counter("agentcore.router.advances",
		metric.WithDescription("Model-chain advances due to retryable failures"), metric.WithUnit("{advance}"))
	if err != nil {
		return nil, err
	}
	daemonRequests, err := meter.Int64Counter("agentcore.daemon.requests",
		metric.WithDescription("Requests processed by the daemon"), metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	daemonDuration, err := meter.Float64Histogram("agentcore.daemon.duration",
		metric.WithDescription("End-to-end request latency"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:         tracer,
		LLMRequests:    llmRequests,
		LLMDuration:    llmDuration,
		TokenUsage:     tokenUsage,
		ToolExecutions: toolExecutions,
		ToolDuration:   toolDuration,
		RouterAdvances: routerAdvances,
		DaemonRequests: daemonRequests,
		DaemonDuration: daemonDuration,
	}, nil
}

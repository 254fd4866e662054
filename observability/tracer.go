package observability

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerConfig mirrors the teacher's tracer config shape, trimmed to the
// knobs a library-embedded engine (no always-on collector endpoint)
// actually needs: whether tracing is on at all, the sampling ratio, and
// where spans are written when there's no collector to ship them to.
type TracerConfig struct {
	Enabled      bool
	ServiceName  string
	SamplingRate float64

	// Writer receives span output when Enabled; nil defaults to io.Discard
	// so enabling tracing without a collector still exercises the SDK's
	// span lifecycle for tests, without printing anything.
	Writer io.Writer
}

// InitTracer installs a global TracerProvider per cfg and returns a
// shutdown func the caller must invoke to flush buffered spans.
// Disabled configs install the SDK's own no-op-shaped zero sampler
// instead of a separate no-op provider, matching the teacher's
// enabled/disabled branch in InitGlobalTracer.
func InitTracer(ctx context.Context, cfg TracerConfig) (func(context.Context) error, error) {
	writer := cfg.Writer
	if writer == nil {
		writer = io.Discard
	}

	sampler := sdktrace.NeverSample()
	if cfg.Enabled {
		sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(writer))
	if err != nil {
		return nil, fmt.Errorf("observability: init tracer exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "fleet"
	}
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// Tracer returns a named tracer off the globally installed provider, the
// same pattern as the teacher's GetTracer helper.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Span attribute/name constants used by the orchestrator's event consumer.
const (
	SpanExecution = "fleet.execution"

	AttrExecutionKind = "fleet.execution.kind"
	AttrExecutionID   = "fleet.execution.id"
	AttrAgentID       = "fleet.agent.id"
	AttrToolName      = "fleet.tool.name"
)

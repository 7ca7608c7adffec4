// Package telemetry wraps go.opentelemetry.io/otel's global tracer so a
// turn loop iteration or MCP request is traceable end to end without this
// module depending on a specific exporter/SDK wiring; that's a deployment
// concern (call otel.SetTracerProvider before orcaforge starts). Absent
// such wiring, otel's default no-op provider makes every span a cheap
// discard.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/orcaforge/orcaforge"

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartSpan opens a span named name under ctx's current trace, with attrs
// attached as string-valued attributes.
func StartSpan(ctx context.Context, name string, attrs ...KV) (context.Context, trace.Span) {
	opts := make([]trace.SpanStartOption, 0, 1)
	if len(attrs) > 0 {
		kvs := make([]attribute.KeyValue, 0, len(attrs))
		for _, a := range attrs {
			kvs = append(kvs, attribute.String(a.Key, a.Value))
		}
		opts = append(opts, trace.WithAttributes(kvs...))
	}
	return tracer().Start(ctx, name, opts...)
}

// KV is one string-valued span attribute.
type KV struct {
	Key   string
	Value string
}

// Attr builds a KV, converting val with fmt.Sprint so callers can pass any
// printable value (ints, durations) without importing attribute themselves.
func Attr(key string, val any) KV {
	return KV{Key: key, Value: fmt.Sprint(val)}
}

// End finishes span, recording err on it (if non-nil) before ending.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// TraceLink is the W3C context of a span whose work is queued and picked up later, outside
// the request that started it (event dispatch, outbox flushes, notification retries).
type TraceLink struct {
	Traceparent string
	Tracestate  string
}

// CaptureTrace returns the link to the span in ctx, or an empty link when there is none.
func CaptureTrace(ctx context.Context) TraceLink {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return TraceLink{Traceparent: carrier.Get("traceparent"), Tracestate: carrier.Get("tracestate")}
}

func (l TraceLink) Empty() bool { return l.Traceparent == "" }

// Resume makes the linked span the remote parent of ctx. An empty link returns ctx as-is.
func (l TraceLink) Resume(ctx context.Context) context.Context {
	if l.Empty() {
		return ctx
	}
	carrier := propagation.MapCarrier{"traceparent": l.Traceparent}
	if l.Tracestate != "" {
		carrier["tracestate"] = l.Tracestate
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

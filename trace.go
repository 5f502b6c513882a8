package replica

import (
	"context"

	"github.com/goliatone/go-replica/pkg/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/goliatone/go-replica"

func defaultTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

func (r *Replica) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("replica.role", string(r.role)))
	return r.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func kindAttr(kind message.Kind) attribute.KeyValue {
	return attribute.String("message.kind", string(kind))
}

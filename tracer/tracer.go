package tracer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-logr/stdr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const name = "leafclassifier"

type Span struct {
	c    context.Context
	span oteltrace.Span
}

func (s Span) Context() context.Context {
	return s.c
}

func (s Span) End() {
	s.span.End()
}

func (s Span) SetIntAttribute(attrName string, val int) {
	s.span.SetAttributes(attribute.Int(attrName, val))
}

func (s Span) SetStringAttribute(attrName string, val string) {
	s.span.SetAttributes(attribute.String(attrName, val))
}

func (s Span) RecordError(err error) {
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// StartSpan starts a child span of whatever span ctx carries. Without a
// configured provider the global no-op tracer is used.
func StartSpan(ctx context.Context, spanName string) Span {
	cCtx, span := otel.Tracer(name).Start(ctx, spanName)
	return Span{
		c:    cCtx,
		span: span,
	}
}

// InitProvider exports spans over OTLP/gRPC to endpoint and installs the
// provider globally. The returned func flushes and stops the exporter.
func InitProvider(ctx context.Context, endpoint string, logger *slog.Logger) (func(context.Context) error, error) {
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithInsecure(), otlptracegrpc.WithEndpoint(endpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", name))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	// otel reports dropped spans through logr; route it into slog
	otel.SetLogger(stdr.New(slog.NewLogLogger(logger.Handler(), slog.LevelDebug)))

	return tp.Shutdown, nil
}

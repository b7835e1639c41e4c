package main

import (
	"context"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/sogeor/flow/config"
)

func TestTracerProviderWithoutEndpoint(t *testing.T) {
	tp, err := newTracerProvider(context.Background(), config.Config{TraceSampleRatio: 1})
	if err != nil {
		t.Fatalf("tracer provider: %v", err)
	}
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	if !span.IsRecording() {
		t.Fatal("expected sampled span")
	}
}

func TestTracerProviderCarriesServiceName(t *testing.T) {
	cfg := config.Config{TraceSampleRatio: 1, OtelEndpoint: "http://127.0.0.1:4318/v1/traces"}
	tp, err := newTracerProvider(context.Background(), cfg)
	if err != nil {
		t.Fatalf("tracer provider: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}()

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	ro, ok := span.(sdktrace.ReadOnlySpan)
	if !ok {
		t.Fatalf("unexpected span type %T", span)
	}
	name, found := ro.Resource().Set().Value(semconv.ServiceNameKey)
	span.End()
	if !found || name.AsString() != serviceName {
		t.Fatalf("expected service name %q, got %q", serviceName, name.AsString())
	}
}

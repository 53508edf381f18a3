package observability

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/sas-coexistence/internal/logging"
)

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := StartSpan(context.Background(), "dpa.ComputeMoveLists", "East1")
	if span.SpanContext().IsSampled() {
		t.Fatalf("noop provider produced a sampled span")
	}
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitTracingStdout(t *testing.T) {
	var buf bytes.Buffer
	cfg := TracingConfig{Enabled: true, Exporter: ExporterStdout, SampleRatio: 1, Output: &buf}
	shutdown, err := InitTracing(context.Background(), cfg, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	defer InitTracing(context.Background(), TracingConfig{}, nil)

	ctx, _ := logging.EnsureRunID(context.Background())
	_, span := StartSpan(ctx, "dpa.CheckInterference", "East1", attribute.Int("uut_grants", 3))
	FailSpan(span, errors.New("propagation failed"))
	span.End()
	ShutdownWithTimeout(context.Background(), shutdown, nil)

	out := buf.String()
	for _, want := range []string{"dpa.CheckInterference", "East1", "run_id", "propagation failed"} {
		if !strings.Contains(out, want) {
			t.Fatalf("exported span missing %q: %s", want, out)
		}
	}
}

func TestInitTracingRejectsExporter(t *testing.T) {
	if _, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil); err == nil {
		t.Fatalf("expected an error for an unsupported exporter")
	}
}

func TestSamplerFor(t *testing.T) {
	cases := map[float64]string{1: "AlwaysOnSampler", 0: "AlwaysOffSampler", 0.5: "TraceIDRatioBased{0.5}"}
	for ratio, want := range cases {
		if got := samplerFor(ratio).Description(); got != want {
			t.Fatalf("samplerFor(%v) = %q, want %q", ratio, got, want)
		}
	}
}

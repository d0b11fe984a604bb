package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTracer installs an in-memory tracer provider as the global one for the
// duration of the test.
func useTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs swaps the default logger for one writing to the returned buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestStartSpan_SessionAttribute(t *testing.T) {
	exp := useTracer(t)

	ctx := WithSession(context.Background(), "sess-1")
	_, span := StartSpan(ctx, "pipeline.finalize")
	span.End()
	_, plain := StartSpan(context.Background(), "api.request")
	plain.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	var found bool
	for _, kv := range spans[0].Attributes {
		if kv.Key == SessionIDKey && kv.Value.AsString() == "sess-1" {
			found = true
		}
	}
	if !found {
		t.Errorf("finalize span attributes = %v, want %s=sess-1", spans[0].Attributes, SessionIDKey)
	}
	for _, kv := range spans[1].Attributes {
		if kv.Key == SessionIDKey {
			t.Errorf("span without session carries %s", SessionIDKey)
		}
	}
}

func TestRecordError(t *testing.T) {
	exp := useTracer(t)

	ctx, span := StartSpan(context.Background(), "pipeline.transcribe")
	RecordError(ctx, nil)
	RecordError(ctx, errors.New("backend down"))
	span.End()

	// No span in the context: must not panic.
	RecordError(context.Background(), errors.New("ignored"))

	got := exp.GetSpans()[0]
	if got.Status.Code != codes.Error || got.Status.Description != "backend down" {
		t.Errorf("status = %+v, want Error/backend down", got.Status)
	}
	if len(got.Events) != 1 {
		t.Errorf("events = %d, want one exception event", len(got.Events))
	}
}

func TestCorrelationID(t *testing.T) {
	useTracer(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without span = %q, want empty", got)
	}

	seen := make(map[string]bool)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "meeting")
		cid := CorrelationID(ctx)
		span.End()
		if len(cid) != 32 || strings.Trim(cid, "0123456789abcdef") != "" {
			t.Fatalf("correlation ID %q is not 32 hex characters", cid)
		}
		if seen[cid] {
			t.Fatalf("duplicate correlation ID %s", cid)
		}
		seen[cid] = true
	}
}

func TestLogger(t *testing.T) {
	useTracer(t)

	tests := []struct {
		name    string
		ctx     func() (context.Context, func())
		want    []string
		notWant []string
	}{
		{
			name:    "bare context",
			ctx:     func() (context.Context, func()) { return context.Background(), func() {} },
			notWant: []string{"trace_id", "session_id"},
		},
		{
			name: "session only",
			ctx: func() (context.Context, func()) {
				return WithSession(context.Background(), "abc"), func() {}
			},
			want:    []string{"session_id=abc"},
			notWant: []string{"trace_id"},
		},
		{
			name: "span and session",
			ctx: func() (context.Context, func()) {
				ctx, span := StartSpan(WithSession(context.Background(), "abc"), "x")
				return ctx, func() { span.End() }
			},
			want: []string{"trace_id=", "span_id=", "session_id=abc"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := captureLogs(t)
			ctx, done := tc.ctx()
			defer done()

			Logger(ctx).Info("pipeline: stage done")
			out := buf.String()
			for _, w := range tc.want {
				if !strings.Contains(out, w) {
					t.Errorf("log %q missing %q", out, w)
				}
			}
			for _, w := range tc.notWant {
				if strings.Contains(out, w) {
					t.Errorf("log %q should not contain %q", out, w)
				}
			}
		})
	}
}

func TestInitProvider(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	reg := prometheus.NewRegistry()
	exp := tracetest.NewInMemoryExporter()
	shutdown, err := InitProvider(context.Background(), ProviderConfig{
		ServiceVersion: "test",
		Registerer:     reg,
		TraceExporter:  exp,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordChunk(context.Background(), "file")
	_, span := StartSpan(context.Background(), "pipeline.finalize")
	span.End()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var chunks bool
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), "minutes_audio_chunks") {
			chunks = true
		}
	}
	if !chunks {
		t.Errorf("registry has no minutes_audio_chunks family")
	}

	tp, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	if !ok {
		t.Fatalf("global tracer provider is %T", otel.GetTracerProvider())
	}
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	if n := len(exp.GetSpans()); n != 1 {
		t.Errorf("exported spans = %d, want 1", n)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

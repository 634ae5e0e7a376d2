package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs an in-memory tracer provider globally for the test.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
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

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	useTestTracer(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	seen := make(map[string]bool)
	for range 20 {
		ctx, span := StartSpan(context.Background(), "op")
		cid := CorrelationID(ctx)
		span.End()
		if len(cid) != 32 || strings.Trim(cid, "0123456789abcdef") != "" {
			t.Fatalf("correlation id %q is not 32 hex chars", cid)
		}
		if seen[cid] {
			t.Fatalf("duplicate correlation id %s", cid)
		}
		seen[cid] = true
	}
}

func TestTraced(t *testing.T) {
	exp := useTestTracer(t)

	errDial := errors.New("dial refused")
	err := Traced(context.Background(), "stt.open", func(ctx context.Context) error {
		if CorrelationID(ctx) == "" {
			t.Error("fn ctx carries no span")
		}
		return errDial
	}, Attr("speaker", "u1"))
	if !errors.Is(err, errDial) {
		t.Fatalf("err = %v", err)
	}
	_ = Traced(context.Background(), "translate", func(context.Context) error { return nil })

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	if spans[0].Name != "stt.open" || spans[0].Status.Code != codes.Error {
		t.Errorf("failed span = %s / %v", spans[0].Name, spans[0].Status.Code)
	}
	if len(spans[0].Events) == 0 {
		t.Error("error not recorded as span event")
	}
	if spans[1].Status.Code == codes.Error {
		t.Error("successful span marked as error")
	}
}

func TestLogger(t *testing.T) {
	useTestTracer(t)
	buf := captureLog(t)

	Logger(context.Background()).Info("plain")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("trace_id without span: %s", buf)
	}

	ctx, span := StartSpan(context.Background(), "log")
	defer span.End()
	Logger(ctx).Info("traced")
	if !strings.Contains(buf.String(), "trace_id="+CorrelationID(ctx)) || !strings.Contains(buf.String(), "span_id=") {
		t.Errorf("log missing span ids: %s", buf)
	}
}

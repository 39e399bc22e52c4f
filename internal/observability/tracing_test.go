package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/lior-linho/openmed-portfolio/internal/logging"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("SANDBOX_TRACING_ENABLED", "TRUE")
	t.Setenv("SANDBOX_TRACING_EXPORTER", "OTLP")
	t.Setenv("SANDBOX_TRACING_SERVICE_NAME", "")
	t.Setenv("SANDBOX_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("SANDBOX_OTLP_ENDPOINT", "collector:4317")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.Endpoint != "collector:4317" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.ServiceName != DefaultServiceName {
		t.Fatalf("ServiceName = %q, want %q", cfg.ServiceName, DefaultServiceName)
	}
	if cfg.SampleRatio != 0.25 {
		t.Fatalf("SampleRatio = %v, want 0.25", cfg.SampleRatio)
	}

	t.Setenv("SANDBOX_TRACING_SAMPLE_RATIO", "7")
	if got := TracingConfigFromEnv().SampleRatio; got != 1 {
		t.Fatalf("out-of-range ratio should fall back to 1, got %v", got)
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin", SampleRatio: 1}, nil)
	if err == nil {
		t.Fatalf("expected error for unsupported exporter")
	}
}

func TestShutdownWithTimeoutLogsFailure(t *testing.T) {
	called := false
	ShutdownWithTimeout(context.Background(), func(ctx context.Context) error {
		called = true
		if _, ok := ctx.Deadline(); !ok {
			t.Errorf("shutdown context has no deadline")
		}
		return errors.New("flush failed")
	}, nil)
	if !called {
		t.Fatalf("shutdown was not invoked")
	}
	ShutdownWithTimeout(context.Background(), nil, nil)
}

func TestResourceAttributesCarrySession(t *testing.T) {
	attrs := resourceAttributes(TracingConfig{
		ServiceName: DefaultServiceName,
		Session:     Session{ID: "sess-9", Vessel: "standard_bend"},
	})
	got := map[string]string{}
	for _, kv := range attrs {
		got[string(kv.Key)] = kv.Value.AsString()
	}
	want := map[string]string{
		"service.name":       DefaultServiceName,
		"service.namespace":  "sandbox",
		"sandbox.session_id": "sess-9",
		"sandbox.vessel":     "standard_bend",
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("resource %s = %q, want %q (all: %v)", k, got[k], v, got)
		}
	}

	if attrs := resourceAttributes(TracingConfig{ServiceName: "x"}); len(attrs) != 2 {
		t.Fatalf("attributes without a session = %v, want service only", attrs)
	}
}

func TestInitTracingEnabledWithSession(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Enabled:     true,
		ServiceName: DefaultServiceName,
		Exporter:    "stdout",
		SampleRatio: 1,
		Session:     Session{ID: "sess-1", Vessel: "straight"},
	}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func chainInterceptors(live SessionSource) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, h grpc.UnaryHandler) (interface{}, error) {
		return SessionUnaryServerInterceptor(logging.Noop(), live)(ctx, req, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return TracingUnaryServerInterceptor()(ctx, req, info, h)
		})
	}
}

func TestSessionInterceptorTagsServerSpan(t *testing.T) {
	rec := recordSpans(t)
	live := func() Session { return Session{ID: "sess-1", Vessel: "straight"} }

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(
		"x-request-id", "req-1",
		"x-session-id", "sess-1",
	))
	var gotReq string
	var gotSession Session
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	_, err := chainInterceptors(live)(ctx, nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		gotReq = logging.RequestIDFromContext(ctx)
		gotSession, _ = SessionFromContext(ctx)
		if logging.SessionIDFromContext(ctx) != "sess-1" {
			t.Errorf("logging session id = %q", logging.SessionIDFromContext(ctx))
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if gotReq != "req-1" || gotSession != live() {
		t.Fatalf("context = %q/%+v, want req-1/%+v", gotReq, gotSession, live())
	}

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	if name := spans[0].Name(); name != "Sandbox/Health/Check" {
		t.Fatalf("span name = %q", name)
	}
	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	if attrs["sandbox.session_id"] != "sess-1" || attrs["sandbox.vessel"] != "straight" || attrs["request_id"] != "req-1" {
		t.Fatalf("span attributes = %v", attrs)
	}
}

func TestSessionInterceptorRejectsOtherSession(t *testing.T) {
	live := func() Session { return Session{ID: "sess-1", Vessel: "straight"} }
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-session-id", "sess-2"))

	called := false
	_, err := SessionUnaryServerInterceptor(nil, live)(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"},
		func(ctx context.Context, req interface{}) (interface{}, error) {
			called = true
			return nil, nil
		})
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("err = %v, want FailedPrecondition", err)
	}
	if called {
		t.Fatalf("handler ran for a foreign session")
	}
}

func TestSessionInterceptorWithoutCallerSession(t *testing.T) {
	live := func() Session { return Session{ID: "sess-1", Vessel: "straight"} }
	var got Session
	_, err := SessionUnaryServerInterceptor(nil, live)(context.Background(), nil, nil,
		func(ctx context.Context, req interface{}) (interface{}, error) {
			got, _ = SessionFromContext(ctx)
			if logging.RequestIDFromContext(ctx) == "" {
				t.Errorf("expected a generated request id")
			}
			return nil, nil
		})
	if err != nil || got.ID != "sess-1" {
		t.Fatalf("session = %+v, err = %v", got, err)
	}
}

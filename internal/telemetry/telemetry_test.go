package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNoopWhenDisabled(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := inst.(noopInstrumenter); !ok {
		t.Fatalf("expected noop instrumenter, got %T", inst)
	}
	ctx, span := inst.Start(context.Background(), RequestStart{Method: "GET"})
	if ctx == nil || span == nil {
		t.Fatalf("noop must still return a span")
	}
	span.Stage("Sending")
	span.End(RequestResult{StatusCode: 200})
}

func TestInstrumenterRecordsExecution(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	inst, err := New(Config{ServiceName: "restbro-test", Version: "test"}, WithSpanProcessor(recorder))
	if err != nil {
		t.Fatalf("New instrumenter: %v", err)
	}
	t.Cleanup(func() {
		_ = inst.Shutdown(context.Background())
	})

	_, span := inst.Start(context.Background(), RequestStart{
		Collection:  "shop",
		Environment: "dev",
		RequestName: "list users",
		Method:      "GET",
		URL:         "{{baseUrl}}/users",
	})
	span.Stage("ResolvingVariables")
	span.Stage("Sending")
	span.End(RequestResult{StatusCode: 200, Dirty: 2})

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	s := spans[0]
	if s.Name() != "list users" {
		t.Fatalf("unexpected span name %q", s.Name())
	}
	if len(s.Events()) != 2 {
		t.Fatalf("expected two state events, got %d", len(s.Events()))
	}
	if s.Status().Code != codes.Ok {
		t.Fatalf("expected ok status, got %v", s.Status())
	}
	var sawCollection bool
	for _, attr := range s.Attributes() {
		if string(attr.Key) == "restbro.collection" && attr.Value.AsString() == "shop" {
			sawCollection = true
		}
	}
	if !sawCollection {
		t.Fatalf("expected collection attribute, got %v", s.Attributes())
	}
}

func TestSpanStatusOnFailure(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	inst, err := New(Config{}, WithSpanProcessor(recorder))
	if err != nil {
		t.Fatalf("New instrumenter: %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	_, span := inst.Start(context.Background(), RequestStart{Method: "POST"})
	span.End(RequestResult{Err: errors.New("connect failed")})
	_, span = inst.Start(context.Background(), RequestStart{Method: "GET"})
	span.End(RequestResult{StatusCode: 503})

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	for _, s := range spans {
		if s.Status().Code != codes.Error {
			t.Fatalf("expected error status for %s, got %v", s.Name(), s.Status())
		}
	}
	if spans[0].Name() != "POST" {
		t.Fatalf("expected method as fallback span name, got %q", spans[0].Name())
	}
}

package services_test

import (
	"errors"
	"strings"
	"testing"

	"conveyor/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrHandler, "worker", "process", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrHandler) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"worker", "process", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapNilMarkerDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "scheduler", "enqueue", "queue full", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{services.Wrap(services.ErrValidation, "scheduler", "create", "empty owner", nil), "validation"},
		{services.Wrap(services.ErrNotFound, "scheduler", "cancel", "unknown pipeline", nil), "not_found"},
		{services.Wrap(services.ErrHandler, "worker", "process", "panic", nil), "handler"},
		{services.Wrap(services.ErrTransport, "hub", "broadcast", "send failed", nil), "transport"},
		{services.Wrap(services.ErrCallback, "scheduler", "notify", "listener panic", nil), "callback"},
		{services.Wrap(services.ErrExternal, "llm", "complete", "http 500", nil), "external"},
		{errors.New("mystery"), "internal"},
	}
	for _, tc := range cases {
		if got := services.Classify(tc.err); got != tc.want {
			t.Fatalf("Classify(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

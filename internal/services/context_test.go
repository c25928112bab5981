package services_test

import (
	"context"
	"testing"

	"conveyor/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithPipelineID(ctx, "pipe-1")
	ctx = services.WithJobID(ctx, "job-7")
	ctx = services.WithOwnerID(ctx, "user-1")
	ctx = services.WithItemRef(ctx, "email-42")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.PipelineIDFromContext(ctx); !ok || id != "pipe-1" {
		t.Fatalf("unexpected pipeline id: %v %v", id, ok)
	}
	if id, ok := services.JobIDFromContext(ctx); !ok || id != "job-7" {
		t.Fatalf("unexpected job id: %v %v", id, ok)
	}
	if owner, ok := services.OwnerIDFromContext(ctx); !ok || owner != "user-1" {
		t.Fatalf("unexpected owner: %v %v", owner, ok)
	}
	if ref, ok := services.ItemRefFromContext(ctx); !ok || ref != "email-42" {
		t.Fatalf("unexpected item ref: %v %v", ref, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithPipelineID(ctx, "")
	ctx = services.WithOwnerID(ctx, "")
	if _, ok := services.PipelineIDFromContext(ctx); ok {
		t.Fatal("expected no pipeline id value")
	}
	if _, ok := services.OwnerIDFromContext(ctx); ok {
		t.Fatal("expected no owner value")
	}
}

package services_test

import (
	"context"
	"testing"

	"folderwatch/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithFilePath(ctx, "/data/watched/a.csv")
	ctx = services.WithFingerprint(ctx, "abc123")
	ctx = services.WithTrigger(ctx, "sweep")
	ctx = services.WithRequestID(ctx, "req-123")

	if path, ok := services.FilePathFromContext(ctx); !ok || path != "/data/watched/a.csv" {
		t.Fatalf("unexpected path: %v %v", path, ok)
	}
	if fp, ok := services.FingerprintFromContext(ctx); !ok || fp != "abc123" {
		t.Fatalf("unexpected fingerprint: %v %v", fp, ok)
	}
	if trigger, ok := services.TriggerFromContext(ctx); !ok || trigger != "sweep" {
		t.Fatalf("unexpected trigger: %v %v", trigger, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithFilePath(ctx, "")
	ctx = services.WithTrigger(ctx, "")
	if _, ok := services.FilePathFromContext(ctx); ok {
		t.Fatal("expected no path value")
	}
	if _, ok := services.TriggerFromContext(ctx); ok {
		t.Fatal("expected no trigger value")
	}
}

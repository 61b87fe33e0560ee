package instrumentation

import (
	"context"
	"testing"
)

func TestNewDefaults(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if inst.Metrics() == nil {
		t.Fatal("Metrics() should not be nil")
	}
	if inst.MeterProvider() == nil {
		t.Fatal("MeterProvider() should not be nil")
	}
	if inst.TracerProvider() == nil {
		t.Fatal("TracerProvider() should not be nil")
	}
}

func TestRecordingWithNoopProviders(t *testing.T) {
	inst, err := New(Config{ServiceName: "kangaroo-test", Enabled: false})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	m := inst.Metrics()

	// No-op providers must accept every recording without error.
	m.RecordHTTPRequest(ctx, "POST", "/token", 200, 1.5)
	m.RecordGrantIssued(ctx, "authorization_code", "client-1")
	m.RecordGrantFailed(ctx, "refresh_token", "invalid_grant")
	m.RecordCodeExchange(ctx, "client-1")
	m.RecordTokenRefresh(ctx, "client-1")
	m.RecordSessionRotated(ctx, "client-1")
	m.RecordRateLimitExceeded(ctx, "ip")
}

func TestShutdownIdempotent(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := inst.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := inst.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/praxisworks/actuator/core"
	"github.com/praxisworks/actuator/kv"
)

func newTestBreaker(t *testing.T) (*Breaker, *time.Time) {
	t.Helper()
	now := time.Now().UTC()
	b := NewBreaker(kv.NewMemoryStore(), BreakerOptions{}, &core.NoOpLogger{})
	b.SetClock(func() time.Time { return now })
	return b, &now
}

func TestBreakerAllowsUnknownConnector(t *testing.T) {
	b, _ := newTestBreaker(t)
	allowed, _, err := b.AllowRequest(context.Background(), "internal")
	if err != nil {
		t.Fatalf("AllowRequest failed: %v", err)
	}
	if !allowed {
		t.Error("connector without history must be allowed")
	}
}

func TestBreakerTripsAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := b.RecordFailure(ctx, "internal"); err != nil {
			t.Fatalf("RecordFailure %d failed: %v", i, err)
		}
	}
	allowed, _, err := b.AllowRequest(ctx, "internal")
	if err != nil {
		t.Fatalf("AllowRequest failed: %v", err)
	}
	if !allowed {
		t.Fatal("circuit must stay closed below the threshold")
	}

	if err := b.RecordFailure(ctx, "internal"); err != nil {
		t.Fatalf("fifth RecordFailure failed: %v", err)
	}
	state, err := b.State(ctx, "internal")
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if state.State != StateOpen {
		t.Errorf("state = %s, want OPEN", state.State)
	}

	allowed, remaining, err := b.AllowRequest(ctx, "internal")
	if err != nil {
		t.Fatalf("AllowRequest failed: %v", err)
	}
	if allowed {
		t.Error("open circuit must deny requests")
	}
	if remaining != 30*time.Second {
		t.Errorf("remaining cooldown = %s, want 30s", remaining)
	}
}

func TestBreakerWindowReset(t *testing.T) {
	b, now := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := b.RecordFailure(ctx, "internal"); err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
	}

	// Failures outside the window do not accumulate.
	*now = now.Add(61 * time.Second)
	if err := b.RecordFailure(ctx, "internal"); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}

	state, err := b.State(ctx, "internal")
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if state.State != StateClosed {
		t.Errorf("state = %s, want CLOSED", state.State)
	}
	if state.FailureCount != 1 {
		t.Errorf("failure_count = %d, want 1", state.FailureCount)
	}
}

func tripBreaker(t *testing.T, b *Breaker, connectorID string) {
	t.Helper()
	for i := 0; i < 5; i++ {
		if err := b.RecordFailure(context.Background(), connectorID); err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
	}
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	b, now := newTestBreaker(t)
	ctx := context.Background()
	tripBreaker(t, b, "internal")

	*now = now.Add(31 * time.Second)

	allowed, _, err := b.AllowRequest(ctx, "internal")
	if err != nil {
		t.Fatalf("AllowRequest failed: %v", err)
	}
	if !allowed {
		t.Fatal("first request after cooldown must win the probe")
	}
	state, _ := b.State(ctx, "internal")
	if state.State != StateHalfOpen || !state.HalfOpenProbeInFlight {
		t.Errorf("state = %+v, want HALF_OPEN with probe in flight", state)
	}

	// Only one probe at a time.
	allowed, remaining, err := b.AllowRequest(ctx, "internal")
	if err != nil {
		t.Fatalf("second AllowRequest failed: %v", err)
	}
	if allowed {
		t.Error("second caller must not get a concurrent probe")
	}
	if remaining != 30*time.Second {
		t.Errorf("retry hint = %s, want the cooldown", remaining)
	}
}

func TestBreakerProbeSuccessCloses(t *testing.T) {
	b, now := newTestBreaker(t)
	ctx := context.Background()
	tripBreaker(t, b, "internal")
	*now = now.Add(31 * time.Second)

	if allowed, _, _ := b.AllowRequest(ctx, "internal"); !allowed {
		t.Fatal("probe must be admitted")
	}
	if err := b.RecordSuccess(ctx, "internal"); err != nil {
		t.Fatalf("RecordSuccess failed: %v", err)
	}

	state, _ := b.State(ctx, "internal")
	if state.State != StateClosed || state.FailureCount != 0 {
		t.Errorf("state = %+v, want CLOSED with zero failures", state)
	}
	if allowed, _, _ := b.AllowRequest(ctx, "internal"); !allowed {
		t.Error("closed circuit must admit requests")
	}
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	b, now := newTestBreaker(t)
	ctx := context.Background()
	tripBreaker(t, b, "internal")
	*now = now.Add(31 * time.Second)

	if allowed, _, _ := b.AllowRequest(ctx, "internal"); !allowed {
		t.Fatal("probe must be admitted")
	}
	if err := b.RecordFailure(ctx, "internal"); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}

	state, _ := b.State(ctx, "internal")
	if state.State != StateOpen {
		t.Errorf("state = %s, want OPEN after failed probe", state.State)
	}
	if state.HalfOpenProbeInFlight {
		t.Error("probe flag must clear on reopen")
	}
	if state.OpenUntilEpoch != now.Add(30*time.Second).Unix() {
		t.Errorf("open_until = %d, want a fresh cooldown", state.OpenUntilEpoch)
	}
}

func TestBreakerForceState(t *testing.T) {
	b, _ := newTestBreaker(t)
	ctx := context.Background()

	if err := b.ForceState(ctx, "internal", StateOpen); err != nil {
		t.Fatalf("ForceState failed: %v", err)
	}
	if allowed, _, _ := b.AllowRequest(ctx, "internal"); allowed {
		t.Error("forced OPEN must deny requests")
	}

	if err := b.ForceState(ctx, "internal", StateClosed); err != nil {
		t.Fatalf("ForceState failed: %v", err)
	}
	if allowed, _, _ := b.AllowRequest(ctx, "internal"); !allowed {
		t.Error("forced CLOSED must admit requests")
	}
}

func TestBreakerIsolatesConnectors(t *testing.T) {
	b, _ := newTestBreaker(t)
	ctx := context.Background()
	tripBreaker(t, b, "crm_salesforce")

	if allowed, _, _ := b.AllowRequest(ctx, "crm_salesforce"); allowed {
		t.Error("tripped connector must be open")
	}
	if allowed, _, _ := b.AllowRequest(ctx, "internal"); !allowed {
		t.Error("other connectors must be unaffected")
	}
}

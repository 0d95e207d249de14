package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coinpulse/herald/internal/db"
)

func newTestBreaker(maxFailures int, recovery time.Duration) *CircuitBreaker {
	return New(Config{
		Name:                "test",
		MaxFailures:         maxFailures,
		RecoveryTimeout:     recovery,
		HalfOpenMaxRequests: 1,
	}, zap.NewNop())
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	if cb.GetState() != StateClosed {
		t.Fatalf("new breaker state = %s, want closed", cb.GetState())
	}
	if !cb.Allow() {
		t.Error("closed breaker should allow requests")
	}
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
		if cb.GetState() != StateClosed {
			t.Fatalf("breaker opened after %d failures, threshold is 3", i+1)
		}
	}

	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %s, want open after 3 failures", cb.GetState())
	}
	if cb.Allow() {
		t.Error("open breaker should reject requests")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()

	// Consecutive failures, not cumulative: the counter restarted.
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.GetState() != StateClosed {
		t.Fatalf("state = %s, want closed", cb.GetState())
	}
}

func TestCircuitBreaker_RecoveryProbe(t *testing.T) {
	cb := newTestBreaker(1, 50*time.Millisecond)

	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatal("breaker should be open")
	}
	if cb.Allow() {
		t.Fatal("open breaker should reject before the recovery timeout")
	}

	time.Sleep(60 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("breaker should allow a probe after the recovery timeout")
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("state = %s, want half-open", cb.GetState())
	}

	// Only one probe until it resolves.
	if cb.Allow() {
		t.Error("half-open breaker should allow only a single probe")
	}
}

func TestCircuitBreaker_ProbeSuccessCloses(t *testing.T) {
	cb := newTestBreaker(1, 50*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(60 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("probe should be allowed")
	}

	cb.RecordSuccess()
	if cb.GetState() != StateClosed {
		t.Fatalf("state = %s, want closed after successful probe", cb.GetState())
	}
	if !cb.Allow() {
		t.Error("closed breaker should allow requests")
	}
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	cb := newTestBreaker(1, 50*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(60 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("probe should be allowed")
	}

	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %s, want open after failed probe", cb.GetState())
	}
	if cb.Allow() {
		t.Error("re-opened breaker should reject requests")
	}
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb := newTestBreaker(2, time.Minute)

	cb.Allow()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	cb.Allow() // rejected: circuit is open

	stats := cb.Stats()
	if stats.Name != "test" {
		t.Errorf("name = %q", stats.Name)
	}
	if stats.State != "open" {
		t.Errorf("state = %q, want open", stats.State)
	}
	if stats.TotalRequests != 2 {
		t.Errorf("total requests = %d, want 2", stats.TotalRequests)
	}
	if stats.TotalFailures != 2 || stats.TotalSuccesses != 1 {
		t.Errorf("failures = %d, successes = %d", stats.TotalFailures, stats.TotalSuccesses)
	}
	if stats.TotalRejected != 1 {
		t.Errorf("rejected = %d, want 1", stats.TotalRejected)
	}
	if stats.LastFailure == "" {
		t.Error("last failure timestamp should be set")
	}
}

// flakyTransport fails until the failure budget is spent.
type flakyTransport struct {
	failures int
	calls    int
}

func (f *flakyTransport) Deliver(ctx context.Context, entry *db.DeliveryLogEntry, notif *db.Notification) error {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errors.New("provider unreachable")
	}
	return nil
}

func (f *flakyTransport) SupportsChannel(channel db.Channel) bool {
	return channel == db.ChannelEmail
}

func testEntry() (*db.DeliveryLogEntry, *db.Notification) {
	userID := uuid.New()
	notif := &db.Notification{ID: uuid.New(), UserID: userID, Type: "order_filled"}
	entry := &db.DeliveryLogEntry{
		ID:             uuid.New(),
		NotificationID: notif.ID,
		UserID:         userID,
		Channel:        db.ChannelEmail,
		Status:         db.DeliveryPending,
	}
	return entry, notif
}

func TestProtectedTransport_FailsFastWhenOpen(t *testing.T) {
	transport := &flakyTransport{failures: 100}
	cb := newTestBreaker(2, time.Minute)
	protected := NewProtectedTransport(transport, cb, zap.NewNop())
	ctx := context.Background()

	entry, notif := testEntry()
	for i := 0; i < 2; i++ {
		if err := protected.Deliver(ctx, entry, notif); err == nil {
			t.Fatal("expected delivery error")
		}
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %s, want open", cb.GetState())
	}

	// Circuit is open: the provider is no longer called.
	callsBefore := transport.calls
	err := protected.Deliver(ctx, entry, notif)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if transport.calls != callsBefore {
		t.Error("open circuit must not reach the provider")
	}
}

func TestProtectedTransport_RecoversThroughProbe(t *testing.T) {
	transport := &flakyTransport{failures: 1}
	cb := newTestBreaker(1, 50*time.Millisecond)
	protected := NewProtectedTransport(transport, cb, zap.NewNop())
	ctx := context.Background()

	entry, notif := testEntry()
	if err := protected.Deliver(ctx, entry, notif); err == nil {
		t.Fatal("first delivery should fail")
	}
	if cb.GetState() != StateOpen {
		t.Fatal("breaker should be open")
	}

	time.Sleep(60 * time.Millisecond)

	// Probe succeeds, circuit closes.
	if err := protected.Deliver(ctx, entry, notif); err != nil {
		t.Fatalf("probe delivery failed: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("state = %s, want closed", cb.GetState())
	}
}

func TestProtectedTransport_SupportsChannelDelegates(t *testing.T) {
	protected := NewProtectedTransport(&flakyTransport{}, newTestBreaker(1, time.Minute), zap.NewNop())

	if !protected.SupportsChannel(db.ChannelEmail) {
		t.Error("should support email")
	}
	if protected.SupportsChannel(db.ChannelSMS) {
		t.Error("should not support sms")
	}
}

package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/cirrus/internal/digest"
)

func TestCircuitBreakerStartsClosed(t *testing.T) {
	cb := New(DefaultConfig("test"), zap.NewNop())
	if cb.GetState() != StateClosed {
		t.Fatalf("state = %s, want closed", cb.GetState())
	}
	for i := 0; i < 10; i++ {
		if !cb.Allow() {
			t.Fatalf("call %d rejected while closed", i)
		}
	}
}

func TestCircuitBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 3, RecoveryTimeout: 5 * time.Second}, zap.NewNop())
	for i := 0; i < 3; i++ {
		cb.Allow()
		cb.RecordFailure()
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %s, want open", cb.GetState())
	}
	if cb.Allow() {
		t.Fatal("open circuit allowed a call")
	}
}

func TestCircuitBreakerProbesAfterTimeout(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 2, RecoveryTimeout: 50 * time.Millisecond}, zap.NewNop())
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordFailure()

	time.Sleep(60 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("probe rejected after recovery timeout")
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("state = %s, want half-open", cb.GetState())
	}
	if cb.Allow() {
		t.Fatal("second call allowed while probe in flight")
	}
}

func TestCircuitBreakerClosesOnSuccessfulProbe(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 2, RecoveryTimeout: 50 * time.Millisecond}, zap.NewNop())
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordFailure()

	time.Sleep(60 * time.Millisecond)
	cb.Allow()
	cb.RecordSuccess()

	if cb.GetState() != StateClosed {
		t.Fatalf("state = %s, want closed", cb.GetState())
	}
}

func TestCircuitBreakerReopensOnFailedProbe(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 2, RecoveryTimeout: 50 * time.Millisecond}, zap.NewNop())
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordFailure()

	time.Sleep(60 * time.Millisecond)
	cb.Allow()
	cb.RecordFailure()

	if cb.GetState() != StateOpen {
		t.Fatalf("state = %s, want open", cb.GetState())
	}
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 3}, zap.NewNop())
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.GetState() != StateClosed {
		t.Fatal("failure count not reset by success")
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d) = %s, want %s", tt.s, got, tt.want)
		}
	}
}

type mockSender struct {
	sendErr   error
	sendCalls int
}

func (m *mockSender) Send(ctx context.Context, batch *digest.Batch) error {
	m.sendCalls++
	return m.sendErr
}

func testBatch() *digest.Batch {
	return &digest.Batch{UserID: "user-1", Total: 1, GeneratedAt: time.Now()}
}

func TestProtectedSenderPassesThrough(t *testing.T) {
	mock := &mockSender{}
	cb := New(Config{Name: "test", MaxFailures: 5}, zap.NewNop())
	ps := NewProtectedSender(mock, cb, zap.NewNop())

	if err := ps.Send(context.Background(), testBatch()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if mock.sendCalls != 1 {
		t.Fatalf("sender called %d times, want 1", mock.sendCalls)
	}
}

func TestProtectedSenderFailsFastWhenOpen(t *testing.T) {
	mock := &mockSender{sendErr: errors.New("down")}
	cb := New(Config{Name: "test", MaxFailures: 2}, zap.NewNop())
	ps := NewProtectedSender(mock, cb, zap.NewNop())

	ps.Send(context.Background(), testBatch())
	ps.Send(context.Background(), testBatch())

	mock.sendCalls = 0
	err := ps.Send(context.Background(), testBatch())
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Send() error = %v, want ErrCircuitOpen", err)
	}
	if mock.sendCalls != 0 {
		t.Fatalf("sender called %d times while open, want 0", mock.sendCalls)
	}
}

func TestProtectedSenderFullLifecycle(t *testing.T) {
	mock := &mockSender{}
	cb := New(Config{Name: "lifecycle", MaxFailures: 3, RecoveryTimeout: 50 * time.Millisecond}, zap.NewNop())
	ps := NewProtectedSender(mock, cb, zap.NewNop())
	ctx := context.Background()

	if err := ps.Send(ctx, testBatch()); err != nil {
		t.Fatalf("healthy send: %v", err)
	}

	mock.sendErr = errors.New("ses down")
	for i := 0; i < 3; i++ {
		ps.Send(ctx, testBatch())
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %s after failures, want open", cb.GetState())
	}

	mock.sendCalls = 0
	if err := ps.Send(ctx, testBatch()); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected fail-fast, got %v", err)
	}
	if mock.sendCalls != 0 {
		t.Fatal("sender called during fail-fast")
	}

	time.Sleep(60 * time.Millisecond)
	mock.sendErr = nil
	if err := ps.Send(ctx, testBatch()); err != nil {
		t.Fatalf("probe send: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("state = %s after recovery, want closed", cb.GetState())
	}
}

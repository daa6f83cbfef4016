package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joseanu/mssql-converter/pkg/core/outcome"
)

var errDown = errors.New("connection refused")

// newTestBreaker - breaker с управляемыми часами
func newTestBreaker(t *testing.T, maxFailures uint32) (*CircuitBreaker, *time.Time) {
	t.Helper()
	config := DefaultConfig()
	config.MaxFailures = maxFailures
	config.Timeout = time.Minute

	cb, err := New("redis", config)
	if err != nil {
		t.Fatalf("Failed to create circuit breaker: %v", err)
	}
	now := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func fail(ctx context.Context) error { return errDown }
func ok(ctx context.Context) error   { return nil }

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(t, 3)

	for i := 0; i < 2; i++ {
		if err := cb.Execute(context.Background(), fail); !errors.Is(err, errDown) {
			t.Fatalf("call %d: expected errDown, got %v", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("Expected StateClosed after 2 failures, got %v", cb.State())
	}

	// успех сбрасывает серию
	if err := cb.Execute(context.Background(), ok); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got := cb.Counts().ConsecutiveFailures; got != 0 {
		t.Errorf("Expected failure streak reset, got %d", got)
	}

	for i := 0; i < 3; i++ {
		cb.Execute(context.Background(), fail)
	}
	if cb.State() != StateOpen {
		t.Fatalf("Expected StateOpen, got %v", cb.State())
	}

	called := false
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("fn must not be called while open")
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb, now := newTestBreaker(t, 1)

	cb.Execute(context.Background(), fail)
	if cb.State() != StateOpen {
		t.Fatalf("Expected StateOpen, got %v", cb.State())
	}

	*now = now.Add(time.Minute)
	if cb.State() != StateHalfOpen {
		t.Fatalf("Expected StateHalfOpen after timeout, got %v", cb.State())
	}

	if err := cb.Execute(context.Background(), ok); err != nil {
		t.Fatalf("Expected trial call to pass, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected StateClosed after successful trial call, got %v", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, now := newTestBreaker(t, 2)

	cb.Execute(context.Background(), fail)
	cb.Execute(context.Background(), fail)
	*now = now.Add(time.Minute)

	// одной ошибки в half-open достаточно
	cb.Execute(context.Background(), fail)
	if cb.State() != StateOpen {
		t.Fatalf("Expected StateOpen, got %v", cb.State())
	}
	if err := cb.Execute(context.Background(), ok); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_StateChangeHook(t *testing.T) {
	changes := make(chan [2]State, 4)
	config := DefaultConfig()
	config.MaxFailures = 1
	config.OnStateChange = func(name string, from, to State) {
		if name != "s3" {
			t.Errorf("Expected name s3, got %s", name)
		}
		changes <- [2]State{from, to}
	}

	cb, err := New("s3", config)
	if err != nil {
		t.Fatalf("Failed to create circuit breaker: %v", err)
	}
	cb.Execute(context.Background(), fail)

	select {
	case c := <-changes:
		if c != [2]State{StateClosed, StateOpen} {
			t.Errorf("Expected closed -> open, got %v -> %v", c[0], c[1])
		}
	case <-time.After(time.Second):
		t.Fatal("OnStateChange was not called")
	}

	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("Expected StateClosed after Reset, got %v", cb.State())
	}
}

func TestCircuitBreaker_Disabled(t *testing.T) {
	cb, err := New("kafka", Config{})
	if err != nil {
		t.Fatalf("Disabled config must be valid: %v", err)
	}
	for i := 0; i < 10; i++ {
		if err := cb.Execute(context.Background(), fail); !errors.Is(err, errDown) {
			t.Fatalf("Expected errDown, got %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("Disabled breaker must stay closed, got %v", cb.State())
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"disabled", Config{}, false},
		{"zero failures", Config{Enabled: true, Timeout: time.Second}, true},
		{"zero timeout", Config{Enabled: true, MaxFailures: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

type countingSink struct {
	calls  int
	err    error
	closed bool
}

func (s *countingSink) Publish(ctx context.Context, r outcome.Record) error {
	s.calls++
	return s.err
}

func (s *countingSink) Close() error {
	s.closed = true
	return nil
}

func TestGuardSink(t *testing.T) {
	inner := &countingSink{err: errDown}
	config := DefaultConfig()
	config.MaxFailures = 2

	sink, err := GuardSink("rabbitmq", inner, config)
	if err != nil {
		t.Fatalf("GuardSink: %v", err)
	}

	rec := outcome.Record{Database: "DB_1700000000000", Status: outcome.StatusSuccess}
	for i := 0; i < 5; i++ {
		sink.Publish(context.Background(), rec)
	}
	if inner.calls != 2 {
		t.Errorf("Expected 2 calls before opening, got %d", inner.calls)
	}
	if err := sink.Publish(context.Background(), rec); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if sink.Breaker().State() != StateOpen {
		t.Errorf("Expected StateOpen, got %v", sink.Breaker().State())
	}

	sink.Close()
	if !inner.closed {
		t.Error("Close must close the wrapped sink")
	}
}

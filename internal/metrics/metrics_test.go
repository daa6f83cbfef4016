package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/joseanu/mssql-converter/pkg/audit"
	"github.com/joseanu/mssql-converter/pkg/resilience"
)

func TestAppender_CountsCleanupFailures(t *testing.T) {
	a := NewAppender()
	ctx := context.Background()
	before := testutil.ToFloat64(cleanupFailuresTotal.WithLabelValues("drop"))

	failed := audit.NewEntry(audit.StepDrop, audit.StatusSuccess).
		WithDuration(30 * time.Millisecond).
		WithError(errors.New("database is in use"))
	if err := a.Append(ctx, failed); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	// successful and skipped steps leave the counter alone
	a.Append(ctx, audit.NewEntry(audit.StepDrop, audit.StatusSuccess))
	a.Append(ctx, audit.NewEntry(audit.StepDrop, audit.StatusSkipped))

	after := testutil.ToFloat64(cleanupFailuresTotal.WithLabelValues("drop"))
	if after-before != 1 {
		t.Errorf("cleanup failures delta = %v, want 1", after-before)
	}
}

func TestAppender_NonCleanupFailure(t *testing.T) {
	a := NewAppender()
	before := testutil.ToFloat64(cleanupFailuresTotal.WithLabelValues("restore"))

	a.Append(context.Background(), audit.NewEntry(audit.StepRestore, audit.StatusSuccess).WithError(errors.New("boom")))

	if got := testutil.ToFloat64(cleanupFailuresTotal.WithLabelValues("restore")); got != before {
		t.Errorf("restore failure counted as cleanup failure")
	}
}

func TestObserveConversion(t *testing.T) {
	before := testutil.ToFloat64(conversionsTotal.WithLabelValues("json", "success"))
	ObserveConversion("json", "success", 2*time.Second)
	if got := testutil.ToFloat64(conversionsTotal.WithLabelValues("json", "success")); got-before != 1 {
		t.Errorf("conversions delta = %v, want 1", got-before)
	}
}

func TestConnectRetry(t *testing.T) {
	before := testutil.ToFloat64(connectRetriesTotal)
	ConnectRetry(1, errors.New("refused"), time.Second)
	ConnectRetry(2, errors.New("refused"), time.Second)
	if got := testutil.ToFloat64(connectRetriesTotal); got-before != 2 {
		t.Errorf("retries delta = %v, want 2", got-before)
	}
}

func TestBreakerStateChanged(t *testing.T) {
	BreakerStateChanged("kafka", resilience.StateClosed, resilience.StateOpen)
	if got := testutil.ToFloat64(breakerState.WithLabelValues("kafka")); got != 2 {
		t.Errorf("breaker state = %v, want 2 (open)", got)
	}

	BreakerStateChanged("kafka", resilience.StateOpen, resilience.StateHalfOpen)
	if got := testutil.ToFloat64(breakerState.WithLabelValues("kafka")); got != 1 {
		t.Errorf("breaker state = %v, want 1 (half-open)", got)
	}
}

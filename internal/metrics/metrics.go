// Package metrics holds the Prometheus collectors of the converter.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/joseanu/mssql-converter/pkg/audit"
	"github.com/joseanu/mssql-converter/pkg/resilience"
)

var (
	// conversionsTotal counts finished requests by format and status (success/failed).
	conversionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mssql_converter_conversions_total",
			Help: "Total number of conversion requests by format and status",
		},
		[]string{"format", "status"},
	)

	// conversionDuration covers the full restore → export → cleanup path.
	conversionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mssql_converter_conversion_duration_seconds",
			Help:    "Duration of the restore-export-cleanup pipeline",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"format"},
	)

	// stepDuration is fed from audit entries.
	stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mssql_converter_step_duration_seconds",
			Help:    "Duration of individual pipeline steps",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step", "status"},
	)

	// cleanupFailuresTotal counts CleanupStepFailed by step (drop, close, remove_file).
	cleanupFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mssql_converter_cleanup_failures_total",
			Help: "Total number of failed cleanup steps",
		},
		[]string{"step"},
	)

	// connectRetriesTotal counts waits for SQL Server to become reachable.
	connectRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mssql_converter_connect_retries_total",
			Help: "Total number of connection retries while waiting for SQL Server",
		},
	)

	// deliveryFailuresTotal counts best-effort delivery failures (archive, outcome).
	deliveryFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mssql_converter_delivery_failures_total",
			Help: "Total number of failed post-response deliveries",
		},
		[]string{"target"},
	)

	// breakerState - 0 closed, 1 half-open, 2 open
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mssql_converter_delivery_breaker_state",
			Help: "Circuit breaker state per delivery target (0 closed, 1 half-open, 2 open)",
		},
		[]string{"target"},
	)
)

// ObserveConversion records one finished request.
func ObserveConversion(format, status string, d time.Duration) {
	conversionsTotal.WithLabelValues(format, status).Inc()
	conversionDuration.WithLabelValues(format).Observe(d.Seconds())
}

// ConnectRetry is passed to the connection waiter.
func ConnectRetry(attempt int, err error, delay time.Duration) {
	connectRetriesTotal.Inc()
}

// DeliveryFailed records a failed archive upload or outcome publication.
func DeliveryFailed(target string) {
	deliveryFailuresTotal.WithLabelValues(target).Inc()
}

// BreakerStateChanged is the OnStateChange hook of delivery breakers.
func BreakerStateChanged(target string, from, to resilience.State) {
	breakerState.WithLabelValues(target).Set(float64(to))
}

// Appender turns audit entries into step metrics.
type Appender struct{}

// NewAppender creates the audit appender.
func NewAppender() *Appender {
	return &Appender{}
}

func (a *Appender) Append(ctx context.Context, entry *audit.Entry) error {
	if entry.Status == audit.StatusSkipped {
		return nil
	}
	stepDuration.WithLabelValues(string(entry.Step), string(entry.Status)).Observe(entry.Duration.Seconds())
	if entry.Step.Cleanup() && entry.Failed() {
		cleanupFailuresTotal.WithLabelValues(string(entry.Step)).Inc()
	}
	return nil
}

func (a *Appender) Close() error {
	return nil
}

package observability

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// LedgerMetrics counts ledger activity. A nil *LedgerMetrics is a no-op.
type LedgerMetrics struct {
	movements  *prometheus.CounterVec
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	deliveries *prometheus.CounterVec
}

// NewLedgerMetrics registers the ledger collectors against registerer.
func NewLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_movements_total",
		Help: "Stock movements appended, by movement type.",
	}, []string{"type"})
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_operations_total",
		Help: "Ledger operations by name and outcome.",
	}, []string{"operation", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockledger_operation_duration_seconds",
		Help:    "Ledger operation latency including the commit.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_event_deliveries_total",
		Help: "Event deliveries by outcome.",
	}, []string{"outcome"})
	registerer.MustRegister(movements, operations, duration, deliveries)
	return &LedgerMetrics{movements: movements, operations: operations, duration: duration, deliveries: deliveries}
}

// AddMovement counts one appended movement.
func (m *LedgerMetrics) AddMovement(movementType string) {
	if m == nil {
		return
	}
	m.movements.WithLabelValues(movementType).Inc()
}

// ObserveOperation records the outcome and latency of one ledger operation.
func (m *LedgerMetrics) ObserveOperation(operation string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, Outcome(err)).Inc()
	m.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ObserveDelivery counts a delivery attempt: ok, failed or skipped.
func (m *LedgerMetrics) ObserveDelivery(outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(outcome).Inc()
}

// Outcome labels err by business error kind.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, shared.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, shared.ErrNotFound):
		return "not_found"
	case errors.Is(err, shared.ErrInvalidStateTransition):
		return "invalid_state"
	case errors.Is(err, shared.ErrInvalidStrategyConfiguration):
		return "invalid_strategy"
	case errors.Is(err, shared.ErrTenantMismatch):
		return "tenant_mismatch"
	case errors.Is(err, shared.ErrConflict), errors.Is(err, shared.ErrIdempotencyConflict):
		return "conflict"
	case errors.Is(err, shared.ErrInvalidInput):
		return "invalid_input"
	}
	return "error"
}

package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// ObserveEngineCall records one geometry engine call.
	ObserveEngineCall(op string, duration time.Duration, success bool)

	// ObserveSolverProbes records how many coverage probes a search needed.
	ObserveSolverProbes(probes int)

	// IncCellOutcome counts an evaluated cell by outcome.
	IncCellOutcome(outcome string)

	// ObserveRun records the duration of a sweep or accuracy run.
	ObserveRun(mode string, duration time.Duration, success bool)

	// IncStorageOperations increments storage operation counter.
	IncStorageOperations(operation string, success bool)

	// ObserveStorageDuration records storage operation duration.
	ObserveStorageDuration(operation string, duration time.Duration)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// ObserveEngineCall implements MetricsCollector.
func (n *NoOpMetrics) ObserveEngineCall(_ string, _ time.Duration, _ bool) {}

// ObserveSolverProbes implements MetricsCollector.
func (n *NoOpMetrics) ObserveSolverProbes(_ int) {}

// IncCellOutcome implements MetricsCollector.
func (n *NoOpMetrics) IncCellOutcome(_ string) {}

// ObserveRun implements MetricsCollector.
func (n *NoOpMetrics) ObserveRun(_ string, _ time.Duration, _ bool) {}

// IncStorageOperations implements MetricsCollector.
func (n *NoOpMetrics) IncStorageOperations(_ string, _ bool) {}

// ObserveStorageDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStorageDuration(_ string, _ time.Duration) {}

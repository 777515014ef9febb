package jobs

import "context"

// Pruner defines the interface for periodic state cleanup
type Pruner interface {
	Prune()
}

// MaintenanceWorker runs periodic cleanup of in-memory state, such as idle
// rate limiter buckets.
type MaintenanceWorker struct {
	pruners []Pruner
}

// NewMaintenanceWorker creates a new MaintenanceWorker instance
func NewMaintenanceWorker(pruners ...Pruner) *MaintenanceWorker {
	return &MaintenanceWorker{pruners: pruners}
}

// ProcessJobs implements the JobProcessor interface
func (w *MaintenanceWorker) ProcessJobs(ctx context.Context) error {
	for _, p := range w.pruners {
		p.Prune()
	}
	return nil
}

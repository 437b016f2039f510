package syncer

import (
	"time"

	"github.com/openmined/remotesync/internal/plan"
	"github.com/openmined/remotesync/internal/reconcile"
)

// BatchResult is the outcome of copying one scope batch in both directions.
type BatchResult struct {
	Scope  string
	Files  int
	Passes int
	Err    error
}

// Report describes what a run found and did.
type Report struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Watermark reconcile.Watermark

	Diff reconcile.DiffMap
	Plan *plan.Plan

	Deleted          []string
	DeleteErrors     []error
	Batches          []BatchResult
	WatermarkWritten bool
}

// Failed reports whether any transfer of the run failed.
func (r *Report) Failed() bool {
	if len(r.DeleteErrors) > 0 {
		return true
	}
	for _, b := range r.Batches {
		if b.Err != nil {
			return true
		}
	}
	return false
}

// Errors returns every transfer error of the run, deletes first.
func (r *Report) Errors() []error {
	errs := append([]error(nil), r.DeleteErrors...)
	for _, b := range r.Batches {
		if b.Err != nil {
			errs = append(errs, b.Err)
		}
	}
	return errs
}

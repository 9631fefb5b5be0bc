// Package metric defines the host-supplied weight callbacks partitioners
// consult to balance load (spec.md §6, "Metrics contract").
package metric

import (
	"fmt"

	"github.com/hirschsn/repa/index"
)

// CellMetric produces a dense vector of non-negative weights, one per
// local cell, in local index order. Host simulations implement this to
// report per-cell computational cost.
type CellMetric func() ([]float64, error)

// PairMetric returns a non-negative weight for an adjacent cell pair. No
// partitioner in this module consults it: graphpart gives every edge of
// its dual graph weight 1.
type PairMetric func(a, b index.GlobalCellIndex) float64

// SizeMismatchError reports that a CellMetric returned a weight vector
// whose length didn't match the number of local cells (spec.md §6's
// MetricSizeMismatch).
type SizeMismatchError struct {
	Got, Want int
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("repa: metric returned %d weights, want %d (n_local_cells)", e.Got, e.Want)
}

// Validate checks a CellMetric's result length against nLocal, returning
// *SizeMismatchError on mismatch.
func Validate(weights []float64, nLocal int) error {
	if len(weights) != nLocal {
		return &SizeMismatchError{Got: len(weights), Want: nLocal}
	}
	return nil
}

// Package udf defines user-defined analysis functions applied to
// dataset partitions by the execution engine.
//
// A UDF is a stateless value object. The executor asks it for one State
// per worker, folds partition frames into those states, and merges the
// states in partition order once all workers finish.
package udf

import (
	"github.com/quantem/dectris-go/internal/dectris"
)

// Geometry describes the dataset a UDF runs over.
type Geometry struct {
	NavShape  [2]int // navigation (scan) dimensions
	SigShape  [2]int // signal (detector) dimensions
	NumFrames int    // total frames in the dataset
}

// NavSize returns the number of navigation positions.
func (g Geometry) NavSize() int {
	return g.NavShape[0] * g.NavShape[1]
}

// UDF is a user-defined analysis function.
type UDF interface {
	// Name identifies the UDF in results, logs and metrics.
	Name() string
	// NewState allocates fresh per-worker folding state.
	NewState(geom Geometry) State
}

// State is the per-worker folding state of one UDF run.
type State interface {
	// ProcessFrame folds one decoded frame into the state. Frames arrive
	// in ascending index order within a partition.
	ProcessFrame(frame *dectris.Frame) error
	// Merge folds another state of the same UDF into this one. The
	// executor calls it in partition order.
	Merge(other State) error
	// Result returns the merged result value.
	Result() any
}

// Result is the outcome of one UDF run over a dataset.
type Result struct {
	UDFName string
	Data    any
}

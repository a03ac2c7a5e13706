package udf

import (
	"github.com/quantem/dectris-go/internal/dectris"
	"github.com/quantem/dectris-go/internal/errors"
)

// SumSigUDF sums each frame over the signal dimensions, producing one
// value per navigation position.
type SumSigUDF struct{}

// NewSumSig returns a SumSigUDF value.
func NewSumSig() *SumSigUDF {
	return &SumSigUDF{}
}

// Name implements UDF.
func (u *SumSigUDF) Name() string {
	return "sumsig"
}

// NewState implements UDF.
func (u *SumSigUDF) NewState(geom Geometry) State {
	return &sumSigState{
		sums: make([]float64, geom.NumFrames),
	}
}

type sumSigState struct {
	sums []float64
}

func (s *sumSigState) ProcessFrame(frame *dectris.Frame) error {
	if int(frame.Index) >= len(s.sums) {
		return errors.Newf("frame index %d outside navigation shape of %d positions",
			frame.Index, len(s.sums)).
			Component("udf").
			Category(errors.CategoryUDF).
			Build()
	}
	s.sums[frame.Index] = frame.SumPixels()
	return nil
}

func (s *sumSigState) Merge(other State) error {
	o, ok := other.(*sumSigState)
	if !ok {
		return errors.Newf("cannot merge %T into sumsig state", other).
			Component("udf").
			Category(errors.CategoryUDF).
			Build()
	}
	// Partitions cover disjoint frame ranges, so addition is a union.
	for i, v := range o.sums {
		s.sums[i] += v
	}
	return nil
}

func (s *sumSigState) Result() any {
	return s.sums
}

package udf

import (
	"github.com/quantem/dectris-go/internal/dectris"
	"github.com/quantem/dectris-go/internal/errors"
)

// FrameCountUDF counts the frames it sees. It touches no pixel data,
// which makes it a cheap warmup and stream diagnostic.
type FrameCountUDF struct{}

// NewFrameCount returns a FrameCountUDF value.
func NewFrameCount() *FrameCountUDF {
	return &FrameCountUDF{}
}

// Name implements UDF.
func (u *FrameCountUDF) Name() string {
	return "framecount"
}

// NewState implements UDF.
func (u *FrameCountUDF) NewState(geom Geometry) State {
	return &frameCountState{}
}

type frameCountState struct {
	count int
}

func (s *frameCountState) ProcessFrame(frame *dectris.Frame) error {
	s.count++
	return nil
}

func (s *frameCountState) Merge(other State) error {
	o, ok := other.(*frameCountState)
	if !ok {
		return errors.Newf("cannot merge %T into framecount state", other).
			Component("udf").
			Category(errors.CategoryUDF).
			Build()
	}
	s.count += o.count
	return nil
}

func (s *frameCountState) Result() any {
	return s.count
}

// ByName returns the UDF registered under the given name.
func ByName(name string) (UDF, error) {
	switch name {
	case "sumsig":
		return NewSumSig(), nil
	case "framecount":
		return NewFrameCount(), nil
	}
	return nil, errors.Newf("unknown udf %q", name).
		Component("udf").
		Category(errors.CategoryNotFound).
		Context("udf", name).
		Build()
}

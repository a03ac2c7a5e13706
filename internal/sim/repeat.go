package sim

import (
	"context"
	"encoding/json"

	"golang.org/x/time/rate"

	"github.com/quantem/dectris-go/internal/dectris"
	"github.com/quantem/dectris-go/internal/dump"
	"github.com/quantem/dectris-go/internal/errors"
)

// RepeatSource stretches a recorded series by replaying its frames
// count times with renumbered frame indices. The announced config is
// rewritten to one image per trigger and count * frames triggers, so a
// receiver expecting the longer series accepts the stream.
type RepeatSource struct {
	file   *dump.RecordFile
	config *dectris.DetectorConfig
	header *dectris.DHeader
	frames int
	count  int
}

// NewRepeatSource opens a recording and prepares a count-fold replay.
func NewRepeatSource(path string, count int) (*RepeatSource, error) {
	if count <= 0 {
		return nil, errors.Newf("repeat count must be positive, got %d", count).
			Component("sim").
			Category(errors.CategoryValidation).
			Build()
	}

	base, err := NewDumpSource(path)
	if err != nil {
		return nil, err
	}

	header, frames, err := scanSeries(base.file)
	if err != nil {
		return nil, err
	}
	if frames == 0 {
		return nil, errors.Newf("recording %s contains no frames", path).
			Component("sim").
			Category(errors.CategoryValidation).
			Build()
	}

	config := *base.config
	config.NImages = 1
	config.NTrigger = count * frames
	config.TriggerMode = dectris.TriggerExternalEdge

	return &RepeatSource{
		file:   base.file,
		config: &config,
		header: header,
		frames: frames,
		count:  count,
	}, nil
}

// Frames returns the frame count of one replayed pass.
func (s *RepeatSource) Frames() int {
	return s.frames
}

// TotalFrames returns the frame count of the full repeated series.
func (s *RepeatSource) TotalFrames() int {
	return s.frames * s.count
}

// Config returns the rewritten detector configuration.
func (s *RepeatSource) Config() *dectris.DetectorConfig {
	return s.config
}

// WriteSeries writes the repeated series: the recorded header, the
// rewritten config, count passes over the recorded frames with fresh
// frame numbers, and one series end.
func (s *RepeatSource) WriteSeries(ctx context.Context, w *dump.Writer, pace *rate.Limiter) error {
	if err := w.WriteJSON(s.header); err != nil {
		return err
	}
	if err := w.WriteJSON(s.config); err != nil {
		return err
	}

	next := uint64(0)
	for rep := 0; rep < s.count; rep++ {
		n, err := s.replayFrames(ctx, w, pace, next)
		if err != nil {
			return err
		}
		next += n
	}

	return w.WriteJSON(&dectris.DSeriesEnd{
		HType:  dectris.HTypeSeriesEnd,
		Series: s.header.Series,
	})
}

// replayFrames copies one pass of the recorded frames, renumbering from
// startIdx, and returns the number of frames written.
func (s *RepeatSource) replayFrames(ctx context.Context, w *dump.Writer, pace *rate.Limiter, startIdx uint64) (uint64, error) {
	cur := s.file.Cursor()
	if err := cur.SeekToFirstHeaderOfType(dectris.HTypeHeader); err != nil {
		return 0, err
	}
	written := uint64(0)

	for !cur.AtEnd() {
		msg, err := cur.ReadRawMsg()
		if err != nil {
			return written, err
		}

		switch dump.MsgType(msg) {
		case dectris.HTypeSeriesEnd:
			return written, nil

		case dectris.HTypeImage:
			var img dectris.DImage
			if err := json.Unmarshal(msg, &img); err != nil {
				return written, replayErr(err, "parse-dimage")
			}
			img.Frame = startIdx + written
			img.Series = s.header.Series

			if pace != nil {
				if err := pace.Wait(ctx); err != nil {
					return written, cancelErr(err)
				}
			}
			if err := w.WriteJSON(&img); err != nil {
				return written, err
			}
			// The metadata, blob and timing messages pass through as is.
			for i := 0; i < 3; i++ {
				raw, err := cur.ReadRawMsg()
				if err != nil {
					return written, err
				}
				if err := w.WriteRawMsg(raw); err != nil {
					return written, err
				}
			}
			written++
		}
	}
	return written, nil
}

// scanSeries reads the series header and counts the frames of a
// recording, skipping any preamble records before the header.
func scanSeries(file *dump.RecordFile) (*dectris.DHeader, int, error) {
	cur := file.Cursor()
	if err := cur.SeekToFirstHeaderOfType(dectris.HTypeHeader); err != nil {
		return nil, 0, err
	}

	var header dectris.DHeader
	if err := cur.DecodeNext(&header); err != nil {
		return nil, 0, replayErr(err, "parse-header")
	}

	frames := 0
	for !cur.AtEnd() {
		msg, err := cur.ReadRawMsg()
		if err != nil {
			return nil, 0, err
		}
		if dump.MsgType(msg) == dectris.HTypeImage {
			frames++
		}
	}
	return &header, frames, nil
}

func replayErr(err error, operation string) error {
	return errors.New(err).
		Component("sim").
		Category(errors.CategoryDumpFile).
		Context("operation", operation).
		Build()
}

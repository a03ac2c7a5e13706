// Package sim provides a stand-in detector: a SIMPLON API subset and a
// data stream server that replays recorded or synthetic acquisition
// series, for working without beam time.
package sim

import (
	"context"
	"encoding/json"

	"golang.org/x/time/rate"

	"github.com/quantem/dectris-go/internal/dectris"
	"github.com/quantem/dectris-go/internal/dump"
	"github.com/quantem/dectris-go/internal/errors"
)

// Source produces acquisition series for the stream server.
type Source interface {
	// Config returns the detector configuration the API server exposes
	// and the series announces.
	Config() *dectris.DetectorConfig
	// WriteSeries writes one complete series to w. Frame pacing uses
	// the limiter; nil means unpaced.
	WriteSeries(ctx context.Context, w *dump.Writer, pace *rate.Limiter) error
}

// DumpSource replays a recorded series message for message.
type DumpSource struct {
	file   *dump.RecordFile
	config *dectris.DetectorConfig
}

// NewDumpSource opens a recording and parses its detector config. The
// recording must start with a series header followed by the config.
func NewDumpSource(path string) (*DumpSource, error) {
	file, err := dump.Open(path)
	if err != nil {
		return nil, err
	}

	cur := file.Cursor()
	if err := cur.SeekToFirstHeaderOfType(dectris.HTypeHeader); err != nil {
		return nil, err
	}
	if _, err := cur.ReadRawMsg(); err != nil {
		return nil, err
	}
	var config dectris.DetectorConfig
	if err := cur.DecodeNext(&config); err != nil {
		return nil, err
	}

	return &DumpSource{file: file, config: &config}, nil
}

// Config returns the detector configuration recorded in the dump.
func (s *DumpSource) Config() *dectris.DetectorConfig {
	return s.config
}

// WriteSeries replays the recording from its series header onward,
// skipping any preamble records left over from earlier runs. The
// limiter is awaited once per dimage message so the frame rate matches
// the configured FPS while the metadata and blob messages of a frame
// go out back to back.
func (s *DumpSource) WriteSeries(ctx context.Context, w *dump.Writer, pace *rate.Limiter) error {
	cur := s.file.Cursor()
	if err := cur.SeekToFirstHeaderOfType(dectris.HTypeHeader); err != nil {
		return err
	}
	for !cur.AtEnd() {
		msg, err := cur.ReadRawMsg()
		if err != nil {
			return err
		}
		if pace != nil && dump.MsgType(msg) == dectris.HTypeImage {
			if err := pace.Wait(ctx); err != nil {
				return cancelErr(err)
			}
		}
		if err := w.WriteRawMsg(msg); err != nil {
			return err
		}
	}
	return nil
}

// SyntheticSource generates a series from scratch: a header, the
// configured detector parameters, deterministic gradient frames and a
// series end.
type SyntheticSource struct {
	Series    uint64
	Width     int
	Height    int
	NumFrames int
}

// Config synthesizes a detector configuration matching the source.
func (s *SyntheticSource) Config() *dectris.DetectorConfig {
	return &dectris.DetectorConfig{
		NImages:           1,
		NTrigger:          s.NumFrames,
		TriggerMode:       dectris.TriggerExternalEdge,
		XPixelsInDetector: s.Width,
		YPixelsInDetector: s.Height,
		BitDepthImage:     16,
		CountTime:         0.0009,
		FrameTime:         0.001,
		Raw:               map[string]json.RawMessage{},
	}
}

func (s *SyntheticSource) WriteSeries(ctx context.Context, w *dump.Writer, pace *rate.Limiter) error {
	header := dectris.DHeader{
		HType:        dectris.HTypeHeader,
		HeaderDetail: "basic",
		Series:       s.Series,
	}
	if err := w.WriteJSON(&header); err != nil {
		return err
	}
	if err := w.WriteJSON(s.Config()); err != nil {
		return err
	}

	for idx := 0; idx < s.NumFrames; idx++ {
		if pace != nil {
			if err := pace.Wait(ctx); err != nil {
				return cancelErr(err)
			}
		}
		if err := s.writeFrame(w, uint64(idx)); err != nil {
			return err
		}
	}

	return w.WriteJSON(&dectris.DSeriesEnd{
		HType:  dectris.HTypeSeriesEnd,
		Series: s.Series,
	})
}

func (s *SyntheticSource) writeFrame(w *dump.Writer, idx uint64) error {
	blob := dectris.EncodeFrame(s.framePixels(idx))

	img := dectris.DImage{
		HType:  dectris.HTypeImage,
		Series: s.Series,
		Frame:  idx,
	}
	if err := w.WriteJSON(&img); err != nil {
		return err
	}

	meta := dectris.DImageData{
		HType:    dectris.HTypeImageData,
		Shape:    []int{s.Width, s.Height},
		Type:     "uint16",
		Encoding: "<",
		Size:     len(blob),
	}
	if err := w.WriteJSON(&meta); err != nil {
		return err
	}
	if err := w.WriteRawMsg(blob); err != nil {
		return err
	}

	timing := dectris.DConfig{
		HType:     dectris.HTypeConfig,
		StartTime: idx * 1000,
		StopTime:  idx*1000 + 900,
		RealTime:  900,
	}
	return w.WriteJSON(&timing)
}

// framePixels fills a frame with its index so every pixel of frame n
// sums to n * width * height, which makes results easy to verify.
func (s *SyntheticSource) framePixels(idx uint64) []uint16 {
	pixels := make([]uint16, s.Width*s.Height)
	value := uint16(idx)
	for i := range pixels {
		pixels[i] = value
	}
	return pixels
}

func cancelErr(err error) error {
	return errors.New(err).
		Component("sim").
		Category(errors.CategoryCancellation).
		Build()
}

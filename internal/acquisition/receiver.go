package acquisition

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/quantem/dectris-go/internal/dectris"
	"github.com/quantem/dectris-go/internal/dump"
	"github.com/quantem/dectris-go/internal/errors"
)

const (
	// receiveBufferSize decouples socket reads from frame decoding.
	receiveBufferSize = 8 << 20

	// socketReadChunk is the read size of the socket pump.
	socketReadChunk = 64 << 10
)

// PartitionRun is one partition of a running acquisition. Its frame
// channel delivers decoded frames in ascending index order and is
// closed once the partition is complete or the run fails.
type PartitionRun struct {
	Partition
	frames chan *dectris.Frame
}

// Frames returns the partition's frame channel.
func (p *PartitionRun) Frames() <-chan *dectris.Frame {
	return p.frames
}

// Run is one pass of the dataset through the data stream.
type Run struct {
	parts []*PartitionRun

	// nextUnclosed is the first partition whose channel is still open.
	// Only the receiver goroutine touches it.
	nextUnclosed int

	done  chan struct{}
	errMu sync.Mutex
	err   error
}

// Partitions returns the partition streams of the run.
func (r *Run) Partitions() []*PartitionRun {
	return r.parts
}

// Wait blocks until the receiver has finished and returns its error.
func (r *Run) Wait() error {
	<-r.done
	return r.Err()
}

// Err returns the receiver error recorded so far, if any.
func (r *Run) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

func (r *Run) setErr(err error) {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	if r.err == nil {
		r.err = err
	}
}

// StartRun arms the detector, fires the trigger callback and starts
// receiving one series. Frames are dispatched to partition channels as
// they decode.
func (ds *Dataset) StartRun(ctx context.Context) (*Run, error) {
	conn, err := ds.acq.dialData(ctx)
	if err != nil {
		return nil, err
	}

	if err := ds.acq.client.Arm(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	if trigger := ds.acq.cfg.Trigger; trigger != nil {
		if err := trigger(ctx); err != nil {
			conn.Close()
			return nil, errors.New(err).
				Component("acquisition").
				Category(errors.CategoryAcquisition).
				Context("operation", "trigger-callback").
				Build()
		}
	}

	run := &Run{
		parts: make([]*PartitionRun, len(ds.partitions)),
		done:  make(chan struct{}),
	}
	for i, p := range ds.partitions {
		run.parts[i] = &PartitionRun{
			Partition: p,
			// Capacity for the whole partition: the dispatcher never
			// blocks behind a slow worker.
			frames: make(chan *dectris.Frame, p.NumFrames()),
		}
	}

	rb := ringbuffer.New(receiveBufferSize)
	rb.SetBlocking(true)

	// Socket pump: bytes from the wire into the ring buffer.
	go func() {
		buf := make([]byte, socketReadChunk)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				ds.acq.metrics.RecordBytesReceived(n)
				if _, werr := rb.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				rb.CloseWithError(err)
				return
			}
		}
	}()

	go func() {
		defer close(run.done)
		defer conn.Close()
		// Unblock the pump if it is parked on a full buffer.
		defer rb.CloseWithError(io.ErrClosedPipe)
		ds.acq.metrics.SetReceiverActive(true)
		defer ds.acq.metrics.SetReceiverActive(false)

		if err := ds.receive(ctx, dump.NewReader(rb), run); err != nil {
			if ctx.Err() != nil {
				err = errors.New(ctx.Err()).
					Component("acquisition").
					Category(errors.CategoryCancellation).
					Context("operation", "receive-series").
					Build()
			}
			run.setErr(err)
		}
		// Close every channel that is still open so consumers unblock.
		for _, p := range run.parts[run.nextUnclosed:] {
			close(p.frames)
		}
		run.nextUnclosed = len(run.parts)
	}()

	return run, nil
}

// receive parses one acquisition series and dispatches decoded frames.
func (ds *Dataset) receive(ctx context.Context, r *dump.Reader, run *Run) error {
	header, err := ds.readHeader(r)
	if err != nil {
		return err
	}

	// Detector config follows the header. Parsed for logging only; the
	// partition layout is fixed at Initialize time.
	cfgMsg, err := r.ReadMsg()
	if err != nil {
		return seriesErr(err, "read-detector-config")
	}
	var streamCfg dectris.DetectorConfig
	if err := json.Unmarshal(cfgMsg, &streamCfg); err != nil {
		return seriesErr(err, "parse-detector-config")
	}
	ds.acq.logger.Debug("series started",
		"series", header.Series,
		"trigger_mode", streamCfg.TriggerMode,
		"nimages", streamCfg.NImages,
		"ntrigger", streamCfg.NTrigger,
	)

	expected := ds.geom.NumFrames
	next := 0
	partIdx := 0

	for {
		msg, err := r.ReadMsg()
		if err != nil {
			return seriesErr(err, "read-message")
		}

		switch dump.MsgType(msg) {
		case dectris.HTypeSeriesEnd:
			var end dectris.DSeriesEnd
			if err := json.Unmarshal(msg, &end); err != nil {
				return seriesErr(err, "parse-series-end")
			}
			if end.Series != header.Series {
				return seriesMismatchErr(header.Series, end.Series)
			}
			if next != expected {
				return errors.Newf("series %d ended after %d of %d frames",
					header.Series, next, expected).
					Component("acquisition").
					Category(errors.CategoryAcquisition).
					Context("series", header.Series).
					Build()
			}
			return nil

		case dectris.HTypeImage:
			var img dectris.DImage
			if err := json.Unmarshal(msg, &img); err != nil {
				return seriesErr(err, "parse-dimage")
			}
			if img.Series != header.Series {
				return seriesMismatchErr(header.Series, img.Series)
			}
			if int(img.Frame) != next {
				ds.acq.metrics.RecordFrameReceived("error")
				return errors.Newf("out-of-order frame %d, expected %d", img.Frame, next).
					Component("acquisition").
					Category(errors.CategoryAcquisition).
					Context("frame", img.Frame).
					Context("expected", next).
					Build()
			}
			if next >= expected {
				return errors.Newf("frame %d beyond expected %d frames", img.Frame, expected).
					Component("acquisition").
					Category(errors.CategoryAcquisition).
					Build()
			}
			ds.acq.metrics.RecordFrameReceived("success")

			frame, err := ds.readFrame(r, &img)
			if err != nil {
				ds.acq.metrics.RecordFrameDecoded("error")
				return err
			}
			ds.acq.metrics.RecordFrameDecoded("success")

			part := run.parts[partIdx]
			select {
			case part.frames <- frame:
			case <-ctx.Done():
				ds.acq.metrics.RecordFrameDropped("shutdown")
				return ctx.Err()
			}

			next++
			if next == part.End {
				close(part.frames)
				run.nextUnclosed = partIdx + 1
				partIdx++
			}

		default:
			// Unknown control messages (e.g. appendix blocks) are skipped.
			ds.acq.logger.Debug("skipping message", "htype", dump.MsgType(msg))
		}
	}
}

func (ds *Dataset) readHeader(r *dump.Reader) (*dectris.DHeader, error) {
	msg, err := r.ReadMsg()
	if err != nil {
		return nil, seriesErr(err, "read-header")
	}
	var header dectris.DHeader
	if err := json.Unmarshal(msg, &header); err != nil {
		return nil, seriesErr(err, "parse-header")
	}
	if header.HType != dectris.HTypeHeader {
		return nil, errors.Newf("stream did not start with %s, got %q",
			dectris.HTypeHeader, header.HType).
			Component("acquisition").
			Category(errors.CategoryAcquisition).
			Build()
	}
	return &header, nil
}

// readFrame reads the dimage_d metadata, the binary blob and the
// per-frame timing message, and decodes the blob.
func (ds *Dataset) readFrame(r *dump.Reader, img *dectris.DImage) (*dectris.Frame, error) {
	metaMsg, err := r.ReadMsg()
	if err != nil {
		return nil, seriesErr(err, "read-dimage_d")
	}
	var meta dectris.DImageData
	if err := json.Unmarshal(metaMsg, &meta); err != nil {
		return nil, seriesErr(err, "parse-dimage_d")
	}

	blob, err := r.ReadMsg()
	if err != nil {
		return nil, seriesErr(err, "read-frame-blob")
	}

	start := time.Now()
	frame, err := dectris.DecodeFrame(&meta, blob, img.Frame)
	if err != nil {
		return nil, err
	}
	ds.acq.metrics.RecordDecodeDuration(time.Since(start).Seconds())

	// Per-frame timing config trails the blob.
	timingMsg, err := r.ReadMsg()
	if err != nil {
		return nil, seriesErr(err, "read-dconfig")
	}
	if dump.MsgType(timingMsg) != dectris.HTypeConfig {
		return nil, errors.Newf("expected %s after frame blob, got %q",
			dectris.HTypeConfig, dump.MsgType(timingMsg)).
			Component("acquisition").
			Category(errors.CategoryAcquisition).
			Build()
	}

	return frame, nil
}

func seriesErr(err error, operation string) error {
	return errors.New(err).
		Component("acquisition").
		Category(errors.CategoryAcquisition).
		Context("operation", operation).
		Build()
}

func seriesMismatchErr(want, got uint64) error {
	return errors.Newf("series mismatch: header announced %d, message carries %d", want, got).
		Component("acquisition").
		Category(errors.CategoryAcquisition).
		Context("want", want).
		Context("got", got).
		Build()
}

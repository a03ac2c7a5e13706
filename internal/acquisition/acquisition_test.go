package acquisition

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantem/dectris-go/internal/dectris"
	"github.com/quantem/dectris-go/internal/dump"
	"github.com/quantem/dectris-go/internal/errors"
	"github.com/quantem/dectris-go/internal/sim"
)

type stubExecutor struct{ workers int }

func (e stubExecutor) Workers() int { return e.workers }

func TestMakePartitions(t *testing.T) {
	parts := makePartitions(10, 4)
	require.Len(t, parts, 3)
	assert.Equal(t, Partition{Index: 0, Start: 0, End: 4}, parts[0])
	assert.Equal(t, Partition{Index: 1, Start: 4, End: 8}, parts[1])
	assert.Equal(t, Partition{Index: 2, Start: 8, End: 10}, parts[2])
	assert.Equal(t, 2, parts[2].NumFrames())

	parts = makePartitions(4, 8)
	require.Len(t, parts, 1)
	assert.Equal(t, Partition{Index: 0, Start: 0, End: 4}, parts[0])

	assert.Empty(t, makePartitions(0, 8))
}

func TestInitializeValidation(t *testing.T) {
	ctx := context.Background()

	a := New(Config{TriggerMode: "bogus", NavShape: [2]int{2, 2}, FramesPerPartition: 4})
	_, err := a.Initialize(ctx, stubExecutor{workers: 1})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	a = New(Config{TriggerMode: dectris.TriggerExternalEdge, NavShape: [2]int{0, 2}, FramesPerPartition: 4})
	_, err = a.Initialize(ctx, stubExecutor{workers: 1})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	a = New(Config{TriggerMode: dectris.TriggerExternalEdge, NavShape: [2]int{2, 2}, FramesPerPartition: 0})
	_, err = a.Initialize(ctx, stubExecutor{workers: 1})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	a = New(Config{TriggerMode: dectris.TriggerExternalEdge, NavShape: [2]int{2, 2}, FramesPerPartition: 4})
	_, err = a.Initialize(ctx, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

// startSimAPI brings up the simulated SIMPLON API seeded for an 8x8
// detector and returns its port.
func startSimAPI(t *testing.T) int {
	t.Helper()

	config := &dectris.DetectorConfig{
		TriggerMode:       dectris.TriggerExternalSoftware,
		XPixelsInDetector: 8,
		YPixelsInDetector: 8,
		BitDepthImage:     16,
	}
	api, err := sim.NewAPIServer(config)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go api.StartListener(ln) //nolint:errcheck
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		api.Shutdown(ctx) //nolint:errcheck
	})

	return ln.Addr().(*net.TCPAddr).Port
}

func newTestAcquisition(t *testing.T, stream []byte) (*Acquisition, *Dataset) {
	t.Helper()

	a := New(Config{
		APIHost:            "127.0.0.1",
		APIPort:            startSimAPI(t),
		NavShape:           [2]int{2, 2},
		TriggerMode:        dectris.TriggerExternalSoftware,
		FramesPerPartition: 3,
	})
	a.setDialFunc(func(ctx context.Context) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(stream)), nil
	})

	ds, err := a.Initialize(context.Background(), stubExecutor{workers: 2})
	require.NoError(t, err)
	return a, ds
}

// syntheticStream renders a complete 4-frame series for an 8x8 detector.
func syntheticStream(t *testing.T) []byte {
	t.Helper()
	src := &sim.SyntheticSource{Series: 3, Width: 8, Height: 8, NumFrames: 4}
	var buf bytes.Buffer
	require.NoError(t, src.WriteSeries(context.Background(), dump.NewWriter(&buf), nil))
	return buf.Bytes()
}

func TestStartRunDeliversFramesInOrder(t *testing.T) {
	_, ds := newTestAcquisition(t, syntheticStream(t))

	assert.Equal(t, [2]int{8, 8}, ds.Geometry().SigShape)
	assert.Equal(t, 4, ds.Geometry().NumFrames)
	require.Len(t, ds.Partitions(), 2) // 3 + 1 frames

	run, err := ds.StartRun(context.Background())
	require.NoError(t, err)

	var indices []uint64
	for _, part := range run.Partitions() {
		n := 0
		for frame := range part.Frames() {
			indices = append(indices, frame.Index)
			// Synthetic frames are filled with their own index.
			assert.Equal(t, float64(frame.Index)*8*8, frame.SumPixels())
			n++
		}
		assert.Equal(t, part.NumFrames(), n)
	}

	assert.Equal(t, []uint64{0, 1, 2, 3}, indices)
	assert.NoError(t, run.Wait())
}

// writeSeriesPrefix writes the header, config and the first n frames of
// a 4-frame synthetic series, leaving the ending to the caller.
func writeSeriesPrefix(t *testing.T, w *dump.Writer, series uint64, n int) {
	t.Helper()

	require.NoError(t, w.WriteJSON(&dectris.DHeader{
		HType: dectris.HTypeHeader, HeaderDetail: "basic", Series: series,
	}))
	src := &sim.SyntheticSource{Series: series, Width: 8, Height: 8, NumFrames: 4}
	require.NoError(t, w.WriteJSON(src.Config()))

	for idx := 0; idx < n; idx++ {
		writeFrame(t, w, series, uint64(idx))
	}
}

func writeFrame(t *testing.T, w *dump.Writer, series, idx uint64) {
	t.Helper()

	pixels := make([]uint16, 8*8)
	blob := dectris.EncodeFrame(pixels)

	require.NoError(t, w.WriteJSON(&dectris.DImage{
		HType: dectris.HTypeImage, Series: series, Frame: idx,
	}))
	require.NoError(t, w.WriteJSON(&dectris.DImageData{
		HType: dectris.HTypeImageData, Shape: []int{8, 8},
		Type: "uint16", Encoding: "<", Size: len(blob),
	}))
	require.NoError(t, w.WriteRawMsg(blob))
	require.NoError(t, w.WriteJSON(&dectris.DConfig{HType: dectris.HTypeConfig}))
}

func runToError(t *testing.T, stream []byte) error {
	t.Helper()

	_, ds := newTestAcquisition(t, stream)
	run, err := ds.StartRun(context.Background())
	require.NoError(t, err)

	// Drain so the dispatcher is never the reason the run stalls.
	for _, part := range run.Partitions() {
		for range part.Frames() {
		}
	}
	return run.Wait()
}

func TestStartRunOutOfOrderFrame(t *testing.T) {
	var buf bytes.Buffer
	w := dump.NewWriter(&buf)
	writeSeriesPrefix(t, w, 3, 1)
	writeFrame(t, w, 3, 2) // frame 1 skipped

	err := runToError(t, buf.Bytes())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryAcquisition))
	assert.Contains(t, err.Error(), "out-of-order")
}

func TestStartRunSeriesMismatch(t *testing.T) {
	var buf bytes.Buffer
	w := dump.NewWriter(&buf)
	writeSeriesPrefix(t, w, 3, 1)
	writeFrame(t, w, 9, 1) // wrong series

	err := runToError(t, buf.Bytes())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "series mismatch")
}

func TestStartRunEarlySeriesEnd(t *testing.T) {
	var buf bytes.Buffer
	w := dump.NewWriter(&buf)
	writeSeriesPrefix(t, w, 3, 2)
	require.NoError(t, w.WriteJSON(&dectris.DSeriesEnd{
		HType: dectris.HTypeSeriesEnd, Series: 3,
	}))

	err := runToError(t, buf.Bytes())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryAcquisition))
	assert.Contains(t, err.Error(), "ended after 2 of 4")
}

func TestStartRunTruncatedStream(t *testing.T) {
	var buf bytes.Buffer
	writeSeriesPrefix(t, dump.NewWriter(&buf), 3, 2)

	err := runToError(t, buf.Bytes())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryAcquisition))
}

func TestStartRunCancellation(t *testing.T) {
	_, ds := newTestAcquisition(t, nil)

	// Replace the dial with a pipe that never delivers a full series.
	pr, pw := net.Pipe()
	ds.acq.setDialFunc(func(ctx context.Context) (io.ReadCloser, error) {
		go func() {
			<-ctx.Done()
			pr.Close()
			pw.Close()
		}()
		return pr, nil
	})
	var buf bytes.Buffer
	writeSeriesPrefix(t, dump.NewWriter(&buf), 3, 1)
	go func() {
		// Keep the pipe open afterwards: the stream stalls after one frame.
		pw.Write(buf.Bytes()) //nolint:errcheck
	}()

	ctx, cancel := context.WithCancel(context.Background())
	run, err := ds.StartRun(ctx)
	require.NoError(t, err)

	cancel()
	err = run.Wait()
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCancellation))

	// All partition channels must be closed so consumers unblock.
	for _, part := range run.Partitions() {
		for range part.Frames() {
		}
	}
}

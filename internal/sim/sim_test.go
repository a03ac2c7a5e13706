package sim

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantem/dectris-go/internal/dectris"
	"github.com/quantem/dectris-go/internal/dump"
)

func TestSyntheticSourceRoundTrip(t *testing.T) {
	src := &SyntheticSource{Series: 7, Width: 4, Height: 4, NumFrames: 3}

	var buf bytes.Buffer
	require.NoError(t, src.WriteSeries(context.Background(), dump.NewWriter(&buf), nil))

	r := dump.NewReader(&buf)

	msg, err := r.ReadMsg()
	require.NoError(t, err)
	assert.Equal(t, dectris.HTypeHeader, dump.MsgType(msg))

	// The detector config object carries no htype of its own.
	msg, err = r.ReadMsg()
	require.NoError(t, err)
	assert.Equal(t, dump.TypeUnknown, dump.MsgType(msg))

	var config dectris.DetectorConfig
	require.NoError(t, json.Unmarshal(msg, &config))
	assert.Equal(t, 4, config.XPixelsInDetector)

	for frame := 0; frame < 3; frame++ {
		msg, err = r.ReadMsg()
		require.NoError(t, err)
		assert.Equal(t, dectris.HTypeImage, dump.MsgType(msg))

		msg, err = r.ReadMsg()
		require.NoError(t, err)
		assert.Equal(t, dectris.HTypeImageData, dump.MsgType(msg))

		blob, err := r.ReadMsg()
		require.NoError(t, err)
		assert.Len(t, blob, 4*4*2)

		msg, err = r.ReadMsg()
		require.NoError(t, err)
		assert.Equal(t, dectris.HTypeConfig, dump.MsgType(msg))
	}

	msg, err = r.ReadMsg()
	require.NoError(t, err)
	assert.Equal(t, dectris.HTypeSeriesEnd, dump.MsgType(msg))

	_, err = r.ReadMsg()
	assert.ErrorIs(t, err, io.EOF)
}

func startAPIServer(t *testing.T, config *dectris.DetectorConfig) (*APIServer, int) {
	t.Helper()

	api, err := NewAPIServer(config)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go api.StartListener(ln) //nolint:errcheck

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		api.Shutdown(ctx) //nolint:errcheck
	})

	return api, ln.Addr().(*net.TCPAddr).Port
}

func TestAPIServerStateMachine(t *testing.T) {
	config := &dectris.DetectorConfig{
		TriggerMode:       dectris.TriggerExternalSoftware,
		XPixelsInDetector: 16,
		YPixelsInDetector: 16,
		BitDepthImage:     16,
	}
	api, port := startAPIServer(t, config)

	client := dectris.NewClient(dectris.ClientConfig{Host: "127.0.0.1", Port: port})
	ctx := context.Background()

	version, err := client.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.8.0", version)

	width, err := client.GetConfigInt(ctx, "x_pixels_in_detector")
	require.NoError(t, err)
	assert.Equal(t, 16, width)

	// Trigger before arm must be rejected.
	require.Error(t, client.Trigger(ctx))
	assert.Equal(t, StateIdle, api.State())

	triggered := make(chan struct{}, 1)
	api.SetTriggerHandler(func() { triggered <- struct{}{} })

	require.NoError(t, client.Arm(ctx))
	assert.Equal(t, StateArmed, api.State())

	require.NoError(t, client.Trigger(ctx))
	assert.Equal(t, StateAcquiring, api.State())
	select {
	case <-triggered:
	case <-time.After(time.Second):
		t.Fatal("trigger handler not called")
	}

	// Arming while acquiring is a conflict.
	require.Error(t, client.Arm(ctx))

	require.NoError(t, client.Disarm(ctx))
	assert.Equal(t, StateIdle, api.State())
}

func TestAPIServerSetConfig(t *testing.T) {
	config := &dectris.DetectorConfig{
		TriggerMode:       dectris.TriggerExternalSoftware,
		XPixelsInDetector: 16,
		YPixelsInDetector: 16,
	}
	_, port := startAPIServer(t, config)

	client := dectris.NewClient(dectris.ClientConfig{Host: "127.0.0.1", Port: port})
	ctx := context.Background()

	changed, err := client.SetConfig(ctx, "ntrigger", 128)
	require.NoError(t, err)
	assert.Equal(t, []string{"ntrigger"}, changed)

	ntrigger, err := client.GetConfigInt(ctx, "ntrigger")
	require.NoError(t, err)
	assert.Equal(t, 128, ntrigger)

	_, err = client.GetConfig(ctx, "no_such_parameter")
	assert.Error(t, err)
}

func TestServerStreamsSeriesOnTrigger(t *testing.T) {
	src := &SyntheticSource{Series: 1, Width: 8, Height: 8, NumFrames: 4}
	config := src.Config()
	config.TriggerMode = dectris.TriggerExternalSoftware

	srv, err := NewServer(Config{
		APIAddr:  "127.0.0.1:0",
		DataAddr: "127.0.0.1:0",
		Source:   &fixedConfigSource{SyntheticSource: src, config: config},
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx) //nolint:errcheck
	})

	conn, err := net.Dial("tcp", srv.DataAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	apiPort := srv.API().Addr().(*net.TCPAddr).Port
	client := dectris.NewClient(dectris.ClientConfig{Host: "127.0.0.1", Port: apiPort})
	ctx := context.Background()

	require.NoError(t, client.Arm(ctx))
	require.NoError(t, client.Trigger(ctx))

	r := dump.NewReader(conn)
	var htypes []string
	for {
		msg, err := r.ReadMsg()
		if err != nil {
			break
		}
		htypes = append(htypes, dump.MsgType(msg))
		if dump.MsgType(msg) == dectris.HTypeSeriesEnd {
			break
		}
	}

	assert.Equal(t, dectris.HTypeHeader, htypes[0])
	assert.Equal(t, dectris.HTypeSeriesEnd, htypes[len(htypes)-1])

	var frames int
	for _, h := range htypes {
		if h == dectris.HTypeImage {
			frames++
		}
	}
	assert.Equal(t, 4, frames)
}

func TestRepeatSource(t *testing.T) {
	src := &SyntheticSource{Series: 2, Width: 4, Height: 4, NumFrames: 3}
	var recorded bytes.Buffer
	require.NoError(t, src.WriteSeries(context.Background(), dump.NewWriter(&recorded), nil))

	path := filepath.Join(t.TempDir(), "series.dump")
	require.NoError(t, os.WriteFile(path, recorded.Bytes(), 0o644))

	repeat, err := NewRepeatSource(path, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, repeat.Frames())
	assert.Equal(t, 9, repeat.TotalFrames())

	config := repeat.Config()
	assert.Equal(t, 1, config.NImages)
	assert.Equal(t, 9, config.NTrigger)
	assert.Equal(t, dectris.TriggerExternalEdge, config.TriggerMode)

	var out bytes.Buffer
	require.NoError(t, repeat.WriteSeries(context.Background(), dump.NewWriter(&out), nil))

	r := dump.NewReader(&out)
	_, err = r.ReadMsg() // header
	require.NoError(t, err)
	_, err = r.ReadMsg() // config
	require.NoError(t, err)

	var frames []uint64
	for {
		msg, err := r.ReadMsg()
		require.NoError(t, err)
		if dump.MsgType(msg) == dectris.HTypeSeriesEnd {
			break
		}
		require.Equal(t, dectris.HTypeImage, dump.MsgType(msg))

		var img dectris.DImage
		require.NoError(t, json.Unmarshal(msg, &img))
		frames = append(frames, img.Frame)

		for i := 0; i < 3; i++ { // metadata, blob, timing
			_, err := r.ReadMsg()
			require.NoError(t, err)
		}
	}

	assert.Equal(t, []uint64{0, 1, 2, 3, 4, 5, 6, 7, 8}, frames)
}

func TestDumpSourceSkipsPreamble(t *testing.T) {
	src := &SyntheticSource{Series: 3, Width: 4, Height: 4, NumFrames: 2}
	var recorded bytes.Buffer
	w := dump.NewWriter(&recorded)
	// A stale end-of-series record from an earlier run precedes the series.
	require.NoError(t, w.WriteJSON(&dectris.DSeriesEnd{HType: dectris.HTypeSeriesEnd, Series: 2}))
	require.NoError(t, src.WriteSeries(context.Background(), w, nil))

	path := filepath.Join(t.TempDir(), "preamble.dump")
	require.NoError(t, os.WriteFile(path, recorded.Bytes(), 0o644))

	dumpSrc, err := NewDumpSource(path)
	require.NoError(t, err)
	assert.Equal(t, 4, dumpSrc.Config().XPixelsInDetector)

	var out bytes.Buffer
	require.NoError(t, dumpSrc.WriteSeries(context.Background(), dump.NewWriter(&out), nil))

	r := dump.NewReader(&out)
	var htypes []string
	for {
		msg, err := r.ReadMsg()
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}
		htypes = append(htypes, dump.MsgType(msg))
	}

	require.NotEmpty(t, htypes)
	assert.Equal(t, dectris.HTypeHeader, htypes[0])
	assert.Equal(t, dectris.HTypeSeriesEnd, htypes[len(htypes)-1])

	var ends int
	for _, h := range htypes {
		if h == dectris.HTypeSeriesEnd {
			ends++
		}
	}
	assert.Equal(t, 1, ends)
}

func TestRepeatSourcePreservesHeader(t *testing.T) {
	src := &SyntheticSource{Series: 5, Width: 4, Height: 4, NumFrames: 2}
	var recorded bytes.Buffer
	w := dump.NewWriter(&recorded)
	require.NoError(t, w.WriteJSON(&dectris.DSeriesEnd{HType: dectris.HTypeSeriesEnd, Series: 4}))
	require.NoError(t, w.WriteJSON(&dectris.DHeader{
		HType:        dectris.HTypeHeader,
		HeaderDetail: "all",
		Series:       5,
	}))
	require.NoError(t, w.WriteJSON(src.Config()))
	for idx := 0; idx < 2; idx++ {
		require.NoError(t, src.writeFrame(w, uint64(idx)))
	}
	require.NoError(t, w.WriteJSON(&dectris.DSeriesEnd{HType: dectris.HTypeSeriesEnd, Series: 5}))

	path := filepath.Join(t.TempDir(), "series.dump")
	require.NoError(t, os.WriteFile(path, recorded.Bytes(), 0o644))

	repeat, err := NewRepeatSource(path, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, repeat.Frames())
	assert.Equal(t, 4, repeat.TotalFrames())

	var out bytes.Buffer
	require.NoError(t, repeat.WriteSeries(context.Background(), dump.NewWriter(&out), nil))

	r := dump.NewReader(&out)
	msg, err := r.ReadMsg()
	require.NoError(t, err)

	var header dectris.DHeader
	require.NoError(t, json.Unmarshal(msg, &header))
	assert.Equal(t, "all", header.HeaderDetail)
	assert.Equal(t, uint64(5), header.Series)
}

func TestRepeatSourceValidation(t *testing.T) {
	_, err := NewRepeatSource(filepath.Join(t.TempDir(), "missing.dump"), 2)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "series.dump")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	_, err = NewRepeatSource(path, 0)
	assert.Error(t, err)
}

// fixedConfigSource overrides the announced config of a synthetic
// source, e.g. to test a specific trigger mode.
type fixedConfigSource struct {
	*SyntheticSource
	config *dectris.DetectorConfig
}

func (s *fixedConfigSource) Config() *dectris.DetectorConfig {
	return s.config
}

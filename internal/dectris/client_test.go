package dectris

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantem/dectris-go/internal/errors"
)

func newMockedClient(t *testing.T) *Client {
	t.Helper()
	c := NewClient(ClientConfig{
		Host:       "detector.local",
		Port:       8910,
		APIVersion: "1.8.0",
		Timeout:    time.Second,
	})
	httpmock.ActivateNonDefault(c.http)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestClientVersion(t *testing.T) {
	c := newMockedClient(t)

	httpmock.RegisterResponder(http.MethodGet,
		"http://detector.local:8910/detector/api/version",
		httpmock.NewJsonResponderOrPanic(200, map[string]any{"value": "1.8.0"}))

	version, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.8.0", version)
}

func TestClientGetConfigCaches(t *testing.T) {
	c := newMockedClient(t)

	url := "http://detector.local:8910/detector/api/1.8.0/config/x_pixels_in_detector"
	httpmock.RegisterResponder(http.MethodGet, url,
		httpmock.NewJsonResponderOrPanic(200, map[string]any{"value": 1028}))

	for range 3 {
		width, err := c.GetConfigInt(context.Background(), "x_pixels_in_detector")
		require.NoError(t, err)
		assert.Equal(t, 1028, width)
	}

	assert.Equal(t, 1, httpmock.GetTotalCallCount(),
		"repeated reads within the TTL must be served from cache")
}

func TestClientSetConfigFlushesCache(t *testing.T) {
	c := newMockedClient(t)

	getURL := "http://detector.local:8910/detector/api/1.8.0/config/ntrigger"
	putURL := getURL
	httpmock.RegisterResponder(http.MethodGet, getURL,
		httpmock.NewJsonResponderOrPanic(200, map[string]any{"value": 1}))
	httpmock.RegisterResponder(http.MethodPut, putURL,
		httpmock.NewJsonResponderOrPanic(200, []string{"ntrigger"}))

	_, err := c.GetConfigInt(context.Background(), "ntrigger")
	require.NoError(t, err)

	changed, err := c.SetConfig(context.Background(), "ntrigger", 65536)
	require.NoError(t, err)
	assert.Equal(t, []string{"ntrigger"}, changed)

	// The read after SetConfig must hit the API again.
	_, err = c.GetConfigInt(context.Background(), "ntrigger")
	require.NoError(t, err)

	info := httpmock.GetCallCountInfo()
	assert.Equal(t, 2, info["GET "+getURL])
}

func TestClientCommands(t *testing.T) {
	c := newMockedClient(t)

	for _, command := range []string{"arm", "trigger", "disarm"} {
		httpmock.RegisterResponder(http.MethodPut,
			"http://detector.local:8910/detector/api/1.8.0/command/"+command,
			httpmock.NewStringResponder(200, ""))
	}

	ctx := context.Background()
	require.NoError(t, c.Arm(ctx))
	require.NoError(t, c.Trigger(ctx))
	require.NoError(t, c.Disarm(ctx))
}

func TestClientCommandRejected(t *testing.T) {
	c := newMockedClient(t)

	httpmock.RegisterResponder(http.MethodPut,
		"http://detector.local:8910/detector/api/1.8.0/command/trigger",
		httpmock.NewStringResponder(409, "not armed"))

	err := c.Trigger(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryDetectorAPI))
}

func TestClientNonNumericParameter(t *testing.T) {
	c := newMockedClient(t)

	httpmock.RegisterResponder(http.MethodGet,
		"http://detector.local:8910/detector/api/1.8.0/config/trigger_mode",
		httpmock.NewJsonResponderOrPanic(200, map[string]any{"value": "exte"}))

	_, err := c.GetConfigInt(context.Background(), "trigger_mode")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryDetectorAPI))
}

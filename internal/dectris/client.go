package dectris

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/quantem/dectris-go/internal/errors"
	"github.com/quantem/dectris-go/internal/logging"
)

const (
	// configCacheTTL bounds how stale a cached parameter read may be.
	configCacheTTL   = 2 * time.Second
	configCacheSweep = 30 * time.Second
)

// ConfigValue is the SIMPLON representation of a single parameter.
type ConfigValue struct {
	Value     any    `json:"value"`
	ValueType string `json:"value_type,omitempty"`
}

// Client talks to the detector's SIMPLON HTTP API.
//
// Parameter reads are cached for a short TTL since the benchmark path
// queries the same geometry keys repeatedly; any SetConfig flushes the
// cache because detector parameters influence each other.
type Client struct {
	baseURL     string
	versionURL  string
	http        *http.Client
	configCache *cache.Cache
	logger      *slog.Logger
}

// ClientConfig holds the connection parameters for the API client.
type ClientConfig struct {
	Host       string
	Port       int
	APIVersion string
	Timeout    time.Duration
}

// NewClient creates a SIMPLON API client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = "1.8.0"
	}
	return &Client{
		baseURL:     fmt.Sprintf("http://%s:%d/detector/api/%s", cfg.Host, cfg.Port, apiVersion),
		versionURL:  fmt.Sprintf("http://%s:%d/detector/api/version", cfg.Host, cfg.Port),
		http:        &http.Client{Timeout: timeout},
		configCache: cache.New(configCacheTTL, configCacheSweep),
		logger:      logging.ForService("dectris-client"),
	}
}

// Version returns the API version reported by the detector.
func (c *Client) Version(ctx context.Context) (string, error) {
	var value ConfigValue
	if err := c.getJSON(ctx, c.versionURL, &value); err != nil {
		return "", err
	}
	version, ok := value.Value.(string)
	if !ok {
		return "", errors.Newf("detector reported non-string API version %v", value.Value).
			Component("dectris").
			Category(errors.CategoryDetectorAPI).
			Build()
	}
	return version, nil
}

// GetConfig reads one detector configuration parameter.
func (c *Client) GetConfig(ctx context.Context, key string) (*ConfigValue, error) {
	if cached, found := c.configCache.Get(key); found {
		return cached.(*ConfigValue), nil
	}

	var value ConfigValue
	url := fmt.Sprintf("%s/config/%s", c.baseURL, key)
	if err := c.getJSON(ctx, url, &value); err != nil {
		return nil, err
	}

	c.configCache.SetDefault(key, &value)
	return &value, nil
}

// GetConfigInt reads one parameter and coerces it to int.
func (c *Client) GetConfigInt(ctx context.Context, key string) (int, error) {
	value, err := c.GetConfig(ctx, key)
	if err != nil {
		return 0, err
	}
	// JSON numbers decode as float64
	num, ok := value.Value.(float64)
	if !ok {
		return 0, errors.Newf("detector parameter %q is not numeric: %v", key, value.Value).
			Component("dectris").
			Category(errors.CategoryDetectorAPI).
			Context("key", key).
			Build()
	}
	return int(num), nil
}

// SetConfig writes one detector configuration parameter and returns the
// list of parameters the detector reports as changed.
func (c *Client) SetConfig(ctx context.Context, key string, value any) ([]string, error) {
	body, err := json.Marshal(ConfigValue{Value: value})
	if err != nil {
		return nil, errors.New(err).
			Component("dectris").
			Category(errors.CategoryValidation).
			Context("key", key).
			Build()
	}

	url := fmt.Sprintf("%s/config/%s", c.baseURL, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return nil, requestErr(err, url)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, requestErr(err, url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusErr(url, resp.StatusCode)
	}

	// Parameters influence each other (e.g. frame_time clamps count_time),
	// so drop everything we have cached.
	c.configCache.Flush()

	var changed []string
	if err := json.NewDecoder(resp.Body).Decode(&changed); err != nil && !errors.Is(err, io.EOF) {
		return nil, decodeRespErr(err, url)
	}

	c.logger.Debug("detector config updated", "key", key, "changed", changed)
	return changed, nil
}

// Arm puts the detector into the armed state, ready for triggers.
func (c *Client) Arm(ctx context.Context) error {
	return c.command(ctx, "arm")
}

// Trigger starts the acquisition of one trigger's worth of frames.
func (c *Client) Trigger(ctx context.Context) error {
	return c.command(ctx, "trigger")
}

// Disarm returns the detector to the idle state.
func (c *Client) Disarm(ctx context.Context) error {
	return c.command(ctx, "disarm")
}

func (c *Client) command(ctx context.Context, name string) error {
	url := fmt.Sprintf("%s/command/%s", c.baseURL, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, http.NoBody)
	if err != nil {
		return requestErr(err, url)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return requestErr(err, url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusErr(url, resp.StatusCode)
	}

	c.logger.Debug("detector command accepted", "command", name)
	return nil
}

func (c *Client) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return requestErr(err, url)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return requestErr(err, url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusErr(url, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return decodeRespErr(err, url)
	}
	return nil
}

func requestErr(err error, url string) error {
	return errors.New(err).
		Component("dectris").
		Category(errors.CategoryNetwork).
		Context("url", url).
		Build()
}

func statusErr(url string, status int) error {
	return errors.Newf("detector API returned status %d", status).
		Component("dectris").
		Category(errors.CategoryDetectorAPI).
		Context("url", url).
		Context("status", status).
		Build()
}

func decodeRespErr(err error, url string) error {
	return errors.New(err).
		Component("dectris").
		Category(errors.CategoryDetectorAPI).
		Context("url", url).
		Context("operation", "decode-response").
		Build()
}

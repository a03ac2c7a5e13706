package sim

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/quantem/dectris-go/internal/dectris"
	"github.com/quantem/dectris-go/internal/logging"
)

// DetectorState is the simulated detector's acquisition state.
type DetectorState int

const (
	StateIdle DetectorState = iota
	StateArmed
	StateAcquiring
)

func (s DetectorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateAcquiring:
		return "acquiring"
	}
	return "unknown"
}

// APIServer serves the SIMPLON API subset the acquisition layer uses:
// version, config get/set and the arm/trigger/disarm commands.
type APIServer struct {
	echo   *echo.Echo
	logger *slog.Logger

	mu     sync.Mutex
	state  DetectorState
	config map[string]any

	// onTrigger fires once per accepted trigger command.
	onTrigger func()
}

// NewAPIServer creates an API server seeded with the given detector
// configuration.
func NewAPIServer(config *dectris.DetectorConfig) (*APIServer, error) {
	raw, err := json.Marshal(config)
	if err != nil {
		return nil, err
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, err
	}

	s := &APIServer{
		state:  StateIdle,
		config: params,
		logger: logging.ForService("sim-api"),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/detector/api/version", s.handleVersion)
	e.GET("/detector/api/:version/config/:param", s.handleGetConfig)
	e.PUT("/detector/api/:version/config/:param", s.handleSetConfig)
	e.PUT("/detector/api/:version/command/:name", s.handleCommand)
	s.echo = e

	return s, nil
}

// SetTriggerHandler registers the callback fired on accepted triggers.
func (s *APIServer) SetTriggerHandler(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTrigger = fn
}

// Start serves the API on addr and blocks until Shutdown. Use ":0" to
// pick a free port; Addr reports the bound address.
func (s *APIServer) Start(addr string) error {
	err := s.echo.Start(addr)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// StartListener serves the API on an already bound listener and blocks
// until Shutdown.
func (s *APIServer) StartListener(l net.Listener) error {
	s.echo.Listener = l
	return s.Start("")
}

// Addr returns the bound listener address, or nil before Start.
func (s *APIServer) Addr() net.Addr {
	if s.echo.Listener == nil {
		return nil
	}
	return s.echo.Listener.Addr()
}

// Shutdown stops the API server.
func (s *APIServer) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// State returns the current acquisition state.
func (s *APIServer) State() DetectorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SeriesDone returns the detector to idle after a streamed series.
func (s *APIServer) SeriesDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateAcquiring {
		s.state = StateIdle
	}
}

func (s *APIServer) handleVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, dectris.ConfigValue{
		Value:     "1.8.0",
		ValueType: "string",
	})
}

func (s *APIServer) handleGetConfig(c echo.Context) error {
	key := c.Param("param")

	s.mu.Lock()
	value, ok := s.config[key]
	s.mu.Unlock()

	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "no such parameter: " + key,
		})
	}
	return c.JSON(http.StatusOK, dectris.ConfigValue{
		Value:     value,
		ValueType: valueType(value),
	})
}

func (s *APIServer) handleSetConfig(c echo.Context) error {
	key := c.Param("param")

	var body dectris.ConfigValue
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	}

	s.mu.Lock()
	s.config[key] = body.Value
	s.mu.Unlock()

	s.logger.Debug("config updated", "key", key, "value", body.Value)
	return c.JSON(http.StatusOK, []string{key})
}

func (s *APIServer) handleCommand(c echo.Context) error {
	name := c.Param("name")

	s.mu.Lock()
	var rejected string
	var trigger func()
	switch name {
	case "arm":
		if s.state != StateIdle {
			rejected = "detector is " + s.state.String() + ", cannot arm"
		} else if s.externalTrigger() {
			// With an external trigger mode there is no software trigger
			// command; the simulated edge arrives as soon as we arm.
			s.state = StateAcquiring
			trigger = s.onTrigger
		} else {
			s.state = StateArmed
		}
	case "trigger":
		if s.state != StateArmed {
			rejected = "detector is " + s.state.String() + ", cannot trigger"
		} else {
			s.state = StateAcquiring
			trigger = s.onTrigger
		}
	case "disarm":
		s.state = StateIdle
	default:
		s.mu.Unlock()
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "no such command: " + name,
		})
	}
	s.mu.Unlock()

	if rejected != "" {
		s.logger.Warn("command rejected", "command", name, "reason", rejected)
		return c.JSON(http.StatusConflict, map[string]string{"error": rejected})
	}

	s.logger.Debug("command accepted", "command", name)
	if trigger != nil {
		trigger()
	}
	return c.JSON(http.StatusOK, map[string]any{})
}

// externalTrigger reports whether the configured trigger mode is one of
// the hardware-edge modes. Callers hold s.mu.
func (s *APIServer) externalTrigger() bool {
	mode, _ := s.config["trigger_mode"].(string)
	return mode == dectris.TriggerExternalEdge || mode == dectris.TriggerInternalEdge
}

func valueType(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "bool"
	case float64:
		return "float"
	default:
		return "string"
	}
}

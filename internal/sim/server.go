package sim

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/quantem/dectris-go/internal/dump"
	"github.com/quantem/dectris-go/internal/errors"
	"github.com/quantem/dectris-go/internal/logging"
)

// Config holds the simulator's listen addresses and source.
type Config struct {
	// APIAddr is the SIMPLON API listen address, e.g. ":8910".
	APIAddr string
	// DataAddr is the data stream listen address, e.g. ":9999".
	DataAddr string
	// FPS paces the frame stream; 0 streams as fast as the wire takes.
	FPS float64
	// Source produces the series to stream.
	Source Source
}

// Server is the complete simulated detector: the SIMPLON API plus a
// data listener that streams one series per accepted trigger.
type Server struct {
	cfg    Config
	api    *APIServer
	data   net.Listener
	logger *slog.Logger

	triggers chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewServer creates a simulator around the given source.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Source == nil {
		return nil, errors.Newf("simulator requires a series source").
			Component("sim").
			Category(errors.CategoryValidation).
			Build()
	}
	api, err := NewAPIServer(cfg.Source.Config())
	if err != nil {
		return nil, errors.New(err).
			Component("sim").
			Category(errors.CategoryConfiguration).
			Build()
	}

	s := &Server{
		cfg:      cfg,
		api:      api,
		logger:   logging.ForService("sim"),
		triggers: make(chan struct{}, 1),
	}
	api.SetTriggerHandler(s.queueTrigger)
	return s, nil
}

// Start binds both listeners and serves until Shutdown.
func (s *Server) Start() error {
	data, err := net.Listen("tcp", s.cfg.DataAddr)
	if err != nil {
		return errors.New(err).
			Component("sim").
			Category(errors.CategoryNetwork).
			Context("addr", s.cfg.DataAddr).
			Build()
	}
	s.data = data

	apiLn, err := net.Listen("tcp", s.cfg.APIAddr)
	if err != nil {
		data.Close()
		return errors.New(err).
			Component("sim").
			Category(errors.CategoryNetwork).
			Context("addr", s.cfg.APIAddr).
			Build()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	// Assign the listener up front so Addr is valid once Start returns.
	s.api.echo.Listener = apiLn

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.api.Start(""); err != nil {
			s.logger.Error("api server failed", "error", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ctx)
	}()

	s.logger.Info("simulator started",
		"api_addr", s.cfg.APIAddr,
		"data_addr", data.Addr().String(),
		"fps", s.cfg.FPS,
	)
	return nil
}

// API returns the SIMPLON API server, e.g. to read its bound address.
func (s *Server) API() *APIServer {
	return s.api
}

// DataAddr returns the bound data listener address, or nil before Start.
func (s *Server) DataAddr() net.Addr {
	if s.data == nil {
		return nil
	}
	return s.data.Addr()
}

// Shutdown stops both listeners and waits for in-flight streams.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.data != nil {
		s.data.Close()
	}
	err := s.api.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// queueTrigger records one pending trigger. A trigger arriving while
// one is already queued is coalesced, matching a detector that ignores
// triggers faster than it can acquire.
func (s *Server) queueTrigger() {
	select {
	case s.triggers <- struct{}{}:
	default:
	}
}

// acceptLoop serves one data connection at a time. Each accepted
// trigger streams one complete series to the connected client.
func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.data.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("accept failed", "error", err)
			return
		}
		s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	s.logger.Debug("client connected", "remote", conn.RemoteAddr().String())

	select {
	case <-s.triggers:
	case <-ctx.Done():
		return
	}

	var pace *rate.Limiter
	if s.cfg.FPS > 0 {
		pace = rate.NewLimiter(rate.Limit(s.cfg.FPS), 1)
	}

	started := time.Now()
	if err := s.cfg.Source.WriteSeries(ctx, dump.NewWriter(conn), pace); err != nil {
		s.logger.Error("series stream failed", "error", err)
		return
	}
	s.api.SeriesDone()
	s.logger.Info("series streamed",
		"duration", time.Since(started),
		"remote", conn.RemoteAddr().String(),
	)
}

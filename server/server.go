// Package server exposes the agent's status and control surface over HTTP:
// snapshots, pause/resume, operator overrides, a websocket event stream and
// Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rustyeddy/autotrader/agent"
	"github.com/rustyeddy/autotrader/events"
)

type Config struct {
	Enabled         bool          `yaml:"enabled" json:"enabled" default:"true"`
	Addr            string        `yaml:"addr" json:"addr" default:":8080" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" default:"10s"`
	// ClientQueue is the number of events buffered per websocket client
	// before events are dropped for it.
	ClientQueue int `yaml:"client_queue" json:"client_queue" default:"256" validate:"gte=0"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		Addr:            ":8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		ClientQueue:     256,
	}
}

// Controller is the part of the agent the server drives.
type Controller interface {
	Snapshot() agent.Snapshot
	Pause(reason string)
	Resume()
	Paused() bool
	ApplyOverride(ctx context.Context, ov agent.Override) (agent.OverrideResult, error)
}

// EventSource is where the event stream comes from.
type EventSource interface {
	Subscribe(h events.Handler) func()
	Recent(n int) []events.Event
}

type Server struct {
	cfg   Config
	echo  *echo.Echo
	ctl   Controller
	src   EventSource
	hub   *Hub
	unsub func()
	log   zerolog.Logger
}

// New builds the server and subscribes its hub to src. gatherer may be nil,
// in which case /metrics serves the default registry.
func New(cfg Config, ctl Controller, src EventSource, gatherer prometheus.Gatherer, log zerolog.Logger) *Server {
	d := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = d.Addr
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = d.ShutdownTimeout
	}
	if cfg.ClientQueue <= 0 {
		cfg.ClientQueue = d.ClientQueue
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg: cfg,
		ctl: ctl,
		src: src,
		log: log.With().Str("component", "server").Logger(),
	}
	s.hub = NewHub(cfg.ClientQueue, s.log)
	s.unsub = src.Subscribe(s.hub.Handle)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout
	e.Use(recoverer(s.log), requestLogger(s.log))

	e.GET("/healthz", s.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	e.GET("/ws", s.stream)

	g := e.Group("/api")
	g.GET("/snapshot", s.snapshot)
	g.GET("/events", s.recent)
	g.POST("/pause", s.pause)
	g.POST("/resume", s.resume)
	g.POST("/override", s.override)

	s.echo = e
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Hub() *Hub {
	return s.hub
}

// Run serves until ctx is done and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		if err := s.echo.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		s.Close()
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.Close()
	if err := s.echo.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.log.Info().Msg("http server stopped")
	return nil
}

// Close stops streaming events and disconnects websocket clients.
func (s *Server) Close() {
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
	s.hub.Close()
}

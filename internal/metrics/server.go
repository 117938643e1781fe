package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/systmms/signctl/internal/logging"
)

// ServerConfig configures the Prometheus scrape endpoint.
type ServerConfig struct {
	Enabled      bool
	Port         int
	Path         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns the metrics server configuration applied
// when none is supplied.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Enabled:      false,
		Port:         9090,
		Path:         "/metrics",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server serves the registered metrics over HTTP for Prometheus to scrape.
type Server struct {
	cfg    ServerConfig
	log    *logging.Logger
	server *http.Server
}

// NewServer builds a Server. log may be nil.
func NewServer(cfg ServerConfig, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Nop()
	}
	return &Server{cfg: cfg, log: log}
}

// Start begins serving metrics if enabled. It returns immediately.
func (s *Server) Start() error {
	if !s.cfg.Enabled {
		return nil
	}

	Init()

	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      mux,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorw("metrics server stopped", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Addr returns the listen address, empty if the server was never started.
func (s *Server) Addr() string {
	if s.server == nil {
		return ""
	}
	return s.server.Addr
}

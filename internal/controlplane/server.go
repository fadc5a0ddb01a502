package controlplane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/openmined/syftbackup/internal/backup"
	"github.com/openmined/syftbackup/internal/scheduler"
	"github.com/ulule/limiter/v3"
)

const (
	DefaultRateLimit = "120-M"
	shutdownTimeout  = 5 * time.Second
)

var ErrServerStarted = errors.New("control server already started")

// Monitor is the part of the scheduler the control plane drives.
type Monitor interface {
	Start(ctx context.Context) error
	Stop()
	RunNow(ctx context.Context) (*backup.Result, error)
	Status() scheduler.Status
}

type Config struct {
	Addr string
	// Token, when set, must be presented as a bearer token on /v1 routes.
	Token     string
	RateLimit string
}

// Server exposes a monitor over a small local HTTP API.
type Server struct {
	config  Config
	monitor Monitor
	handler http.Handler

	mu      sync.Mutex
	baseCtx context.Context
	server  *http.Server
	addr    net.Addr
}

func New(config Config, monitor Monitor) (*Server, error) {
	if config.RateLimit == "" {
		config.RateLimit = DefaultRateLimit
	}
	rate, err := limiter.NewRateFromFormatted(config.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("rate limit %q: %w", config.RateLimit, err)
	}

	s := &Server{
		config:  config,
		monitor: monitor,
		baseCtx: context.Background(),
	}
	s.handler = s.routes(rate)
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr is the bound listener address once Start has been called.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start serves until ctx is cancelled, then shuts the listener down.
// Monitoring started through the API lives as long as ctx.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("control listen %s: %w", s.config.Addr, err)
	}

	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		ln.Close()
		return ErrServerStarted
	}
	s.baseCtx = ctx
	s.addr = ln.Addr()
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	slog.Info("control server start", "addr", ln.Addr().String(), "auth", s.config.Token != "")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("control shutdown: %w", err)
	}
	slog.Info("control server stop")
	return nil
}

func (s *Server) monitorContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

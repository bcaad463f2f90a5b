package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	rspec "github.com/opencontainers/runtime-spec/specs-go"
	cdispec "tags.cncf.io/container-device-interface/specs-go"

	"github.com/nerrad567/cdicache/internal/cdi"
	"github.com/nerrad567/cdicache/internal/infrastructure/config"
	"github.com/nerrad567/cdicache/internal/infrastructure/logging"
	"github.com/nerrad567/cdicache/internal/specstore"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceCache is the part of *cdi.Cache the API uses.
type DeviceCache interface {
	RefreshWithReport() (cdi.RefreshReport, error)
	InjectDevices(spec *rspec.Spec, names ...string) ([]string, error)
	ListDevices() []string
	GetDevice(name string) (*cdi.DeviceRecord, error)
	ListClasses() []string
	GetErrors() map[string][]error
	ClearErrors()
	Generation() uint64
	Sources() []string
}

// SpecStore is the part of *specstore.Store the API uses.
type SpecStore interface {
	WriteSpec(ctx context.Context, name string, data []byte) (*cdispec.Spec, error)
	RemoveSpec(ctx context.Context, name string) error
	List(ctx context.Context) ([]specstore.SpecInfo, error)
}

// Deps holds the dependencies of the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Cache   DeviceCache
	Store   SpecStore // optional; spec routes are not mounted without it
	Version string
}

// Server is the HTTP API server.
type Server struct {
	cfg     config.APIConfig
	logger  *logging.Logger
	cache   DeviceCache
	store   SpecStore
	version string
	started time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New validates deps and returns an unstarted server.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Cache == nil {
		return nil, fmt.Errorf("device cache is required")
	}

	return &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		cache:   deps.Cache,
		store:   deps.Store,
		version: deps.Version,
	}, nil
}

// Start binds the listener and serves in a background goroutine. Binding
// errors are returned directly.
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.listener = ln
	s.started = time.Now()
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
	}

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, useful when the configured port is 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close shuts the server down, waiting up to 10 seconds for in-flight
// requests.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/meterlog/internal/infrastructure/config"
	"github.com/nerrad567/meterlog/internal/infrastructure/logging"
	"github.com/nerrad567/meterlog/internal/poller"
	"github.com/nerrad567/meterlog/internal/shard"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config config.APIConfig
	Site   config.SiteConfig
	Meters []config.MeterConfig
	Logger *logging.Logger
	Store  *shard.Store

	// Poller serves POST /meters/{id}/poll. Optional; without it the route
	// answers 503.
	Poller *poller.Poller

	// Metrics is exposed on /metrics and receives the HTTP collectors.
	// Optional.
	Metrics *poller.Metrics

	// Clock supplies "now" for default query ranges. Default: time.Now.
	Clock func() time.Time

	Version string
}

// Server is the HTTP API server for meterlog.
//
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	logger   *logging.Logger
	store    *shard.Store
	poller   *poller.Poller
	metrics  *poller.Metrics
	reqs     *httpMetrics
	version  string
	meters   map[string]config.MeterConfig
	order    []string
	siteZone *time.Location
	clock    func() time.Time
	server   *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, shard store) plus optional poller
//     and metrics
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing or a timezone is invalid
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("shard store is required")
	}

	siteZone := time.UTC
	if deps.Site.Timezone != "" {
		loc, err := time.LoadLocation(deps.Site.Timezone)
		if err != nil {
			return nil, fmt.Errorf("loading site timezone: %w", err)
		}
		siteZone = loc
	}

	s := &Server{
		cfg:      deps.Config,
		logger:   deps.Logger,
		store:    deps.Store,
		poller:   deps.Poller,
		metrics:  deps.Metrics,
		version:  deps.Version,
		meters:   make(map[string]config.MeterConfig, len(deps.Meters)),
		siteZone: siteZone,
		clock:    deps.Clock,
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	for _, m := range deps.Meters {
		if _, dup := s.meters[m.ID]; dup {
			return nil, fmt.Errorf("duplicate meter %q", m.ID)
		}
		s.meters[m.ID] = m
		s.order = append(s.order, m.ID)
	}

	var reg prometheus.Registerer
	if deps.Metrics != nil {
		reg = deps.Metrics.Registry()
	}
	hm, err := newHTTPMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("registering http metrics: %w", err)
	}
	s.reqs = hm

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It builds the router and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: Always nil; listener failures are logged
func (s *Server) Start(_ context.Context) error {
	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

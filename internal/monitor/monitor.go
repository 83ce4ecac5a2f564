package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/steadydb/failover/pkg/driver"
	"github.com/steadydb/failover/pkg/failover"
	"github.com/steadydb/failover/pkg/health"
	"github.com/steadydb/failover/pkg/logging"
	"github.com/steadydb/failover/pkg/metrics"
	"github.com/steadydb/failover/pkg/tracing"
)

const probeTimeout = 5 * time.Second

// Config holds monitor configuration
type Config struct {
	ProbeInterval  time.Duration `json:"probe_interval"`
	ProbeQuery     string        `json:"probe_query"`
	AllowedOrigins []string      `json:"allowed_origins"`
}

// DefaultConfig returns default monitor configuration
func DefaultConfig() Config {
	return Config{
		ProbeInterval:  10 * time.Second,
		ProbeQuery:     "SELECT 1",
		AllowedOrigins: []string{"*"},
	}
}

// ProbeResult records the outcome of a single probe iteration
type ProbeResult struct {
	At       time.Time     `json:"at"`
	Duration time.Duration `json:"duration"`
	Writable bool          `json:"writable"`
	Error    string        `json:"error,omitempty"`
}

// StatusResponse is the payload served by the status endpoint
type StatusResponse struct {
	Driver       string       `json:"driver"`
	ConnectionID string       `json:"connection_id"`
	Connected    bool         `json:"connected"`
	LastProbe    *ProbeResult `json:"last_probe,omitempty"`
}

// Service runs a periodic probe through the resilient client and exposes the
// connection state over HTTP. The probe doubles as the failover trigger: a
// probe that hits a transient error drives the client's reconnection. The
// client is single-caller, so the probe loop, the health checkers, and the
// status endpoint all reach it through one guardedClient.
type Service struct {
	client  *guardedClient
	config  Config
	logger  *logging.Logger
	metrics *metrics.Metrics
	tracer  *tracing.TracingService
	health  *health.Service

	mu        sync.RWMutex
	lastProbe *ProbeResult

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewService creates a new monitor service
func NewService(client *failover.Client, config Config, logger *logging.Logger, m *metrics.Metrics, tracer *tracing.TracingService) *Service {
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = 10 * time.Second
	}
	if config.ProbeQuery == "" {
		config.ProbeQuery = "SELECT 1"
	}
	if logger == nil {
		logger = logging.GetLogger()
	}
	if m == nil {
		m = metrics.NewMetrics(&metrics.Config{Enabled: false})
	}

	s := &Service{
		client:  &guardedClient{client: client},
		config:  config,
		logger:  logger,
		metrics: m,
		tracer:  tracer,
		stopCh:  make(chan struct{}),
	}

	healthService := health.NewService(logger, nil)
	healthService.RegisterChecker("database", health.NewConnChecker(s.client, "database"))
	healthService.RegisterChecker("probe", health.NewCustomChecker("probe", s.probeHealth).
		WithMetadata(map[string]string{"interval": config.ProbeInterval.String()}))
	s.health = healthService

	return s
}

// Start runs the probe loop until the context is cancelled or Stop is called
func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.ProbeInterval)
	defer ticker.Stop()

	s.logger.Info("Probe loop started",
		"interval", s.config.ProbeInterval.String(),
		"query", s.config.ProbeQuery)

	s.Probe(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Probe(ctx)
		}
	}
}

// Stop stops the probe loop. Safe to call more than once.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// Probe runs a single probe iteration
func (s *Service) Probe(ctx context.Context) {
	if s.tracer != nil {
		_ = s.tracer.TraceableFunction(ctx, "monitor.probe", s.runProbe)
		return
	}
	_ = s.runProbe(ctx)
}

func (s *Service) runProbe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	rows, err := s.client.QueryContext(probeCtx, s.config.ProbeQuery)
	duration := time.Since(start)

	result := &ProbeResult{At: start, Duration: duration}

	status := "ok"
	if err != nil {
		status = "error"
		result.Error = err.Error()
	} else {
		_ = rows.Close()
	}
	s.metrics.RecordQuery("query", status, duration)
	s.metrics.SetConnectionUp(s.client.Driver(), err == nil)

	if err == nil {
		if writable, werr := s.client.Writable(probeCtx); werr == nil {
			result.Writable = writable
		}
	}

	s.mu.Lock()
	s.lastProbe = result
	s.mu.Unlock()

	if err != nil {
		s.logger.LogError(ctx, err, "Probe query failed", logrus.Fields{
			"query": s.config.ProbeQuery,
		})
		return err
	}

	s.logger.LogQueryEvent(ctx, "probe_completed", s.client.Driver(), s.client.ConnectionID(), duration, logrus.Fields{
		"writable": result.Writable,
	})
	return nil
}

// probeHealth reports the probe loop state as a health check
func (s *Service) probeHealth(ctx context.Context) (health.Status, string, error) {
	s.mu.RLock()
	last := s.lastProbe
	s.mu.RUnlock()

	if last == nil {
		return health.StatusUnknown, "no probe has completed yet", nil
	}

	if age := time.Since(last.At); age > 3*s.config.ProbeInterval {
		return health.StatusDegraded, fmt.Sprintf("last probe finished %s ago", age.Round(time.Second)), nil
	}

	if last.Error != "" {
		return health.StatusDegraded, "last probe failed", errors.New(last.Error)
	}

	return health.StatusHealthy, "probe loop is running", nil
}

// Status returns a snapshot of the managed connection state
func (s *Service) Status() StatusResponse {
	s.mu.RLock()
	last := s.lastProbe
	s.mu.RUnlock()

	return StatusResponse{
		Driver:       s.client.Driver(),
		ConnectionID: s.client.ConnectionID(),
		Connected:    !s.client.Closed(),
		LastProbe:    last,
	}
}

// guardedClient serializes access to the resilient client, which is not safe
// for concurrent use: its reconnection protocol swaps the installed handle
// under the caller. The probe loop runs while HTTP handlers serve health and
// status requests, so every call routes through the same mutex. The mutex is
// never held together with Service.mu.
type guardedClient struct {
	mu     sync.Mutex
	client *failover.Client
}

func (g *guardedClient) QueryContext(ctx context.Context, query string, args ...interface{}) (driver.Rows, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.client.QueryContext(ctx, query, args...)
}

func (g *guardedClient) PingContext(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.client.PingContext(ctx)
}

func (g *guardedClient) Writable(ctx context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.client.Writable(ctx)
}

func (g *guardedClient) ConnectionID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.client.ConnectionID()
}

func (g *guardedClient) Driver() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.client.Driver()
}

func (g *guardedClient) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.client.Closed()
}

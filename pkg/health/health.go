package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/steadydb/failover/pkg/logging"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
	StatusUnknown   Status = "unknown"
)

// Check represents a health check
type Check struct {
	Name      string            `json:"name"`
	Status    Status            `json:"status"`
	Message   string            `json:"message,omitempty"`
	Error     string            `json:"error,omitempty"`
	Duration  time.Duration     `json:"duration"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// HealthResponse represents the overall health response
type HealthResponse struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Duration  time.Duration     `json:"duration"`
	Checks    map[string]*Check `json:"checks"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Checker interface for health checks
type Checker interface {
	Check(ctx context.Context) *Check
}

// Service provides health checking functionality
type Service struct {
	checkers map[string]Checker
	logger   *logging.Logger
	metadata map[string]string
	mutex    sync.RWMutex
}

// Config holds health check configuration
type Config struct {
	Timeout  time.Duration     `json:"timeout"`
	Metadata map[string]string `json:"metadata"`
}

// DefaultConfig returns default health check configuration
func DefaultConfig() *Config {
	return &Config{
		Timeout:  5 * time.Second,
		Metadata: make(map[string]string),
	}
}

// NewService creates a new health check service
func NewService(logger *logging.Logger, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}

	return &Service{
		checkers: make(map[string]Checker),
		logger:   logger,
		metadata: config.Metadata,
	}
}

// RegisterChecker registers a health checker
func (s *Service) RegisterChecker(name string, checker Checker) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.checkers[name] = checker
}

// UnregisterChecker unregisters a health checker
func (s *Service) UnregisterChecker(name string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.checkers, name)
}

// CheckHealth performs all health checks
func (s *Service) CheckHealth(ctx context.Context) *HealthResponse {
	start := time.Now()

	s.mutex.RLock()
	checkers := make(map[string]Checker, len(s.checkers))
	for name, checker := range s.checkers {
		checkers[name] = checker
	}
	s.mutex.RUnlock()

	checks := make(map[string]*Check, len(checkers))
	overallStatus := StatusHealthy

	// Run all checks concurrently
	var wg sync.WaitGroup
	var mutex sync.Mutex

	for name, checker := range checkers {
		wg.Add(1)
		go func(name string, checker Checker) {
			defer wg.Done()

			check := checker.Check(ctx)

			mutex.Lock()
			checks[name] = check

			// Update overall status
			switch check.Status {
			case StatusUnhealthy:
				overallStatus = StatusUnhealthy
			case StatusDegraded:
				if overallStatus == StatusHealthy {
					overallStatus = StatusDegraded
				}
			}
			mutex.Unlock()
		}(name, checker)
	}

	wg.Wait()

	duration := time.Since(start)

	return &HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Duration:  duration,
		Checks:    checks,
		Metadata:  s.metadata,
	}
}

// Handler returns a Gin handler for health checks
func (s *Service) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()

		health := s.CheckHealth(ctx)

		statusCode := http.StatusOK
		switch health.Status {
		case StatusUnhealthy:
			statusCode = http.StatusServiceUnavailable
		case StatusDegraded:
			statusCode = http.StatusPartialContent
		}

		c.JSON(statusCode, health)
	}
}

// LivenessHandler returns a simple liveness check handler
func (s *Service) LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "alive",
			"timestamp": time.Now(),
		})
	}
}

// ReadinessHandler returns a readiness check handler
func (s *Service) ReadinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		health := s.CheckHealth(ctx)

		statusCode := http.StatusOK
		if health.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, gin.H{
			"status":    health.Status,
			"timestamp": health.Timestamp,
			"ready":     health.Status != StatusUnhealthy,
		})
	}
}

// Conn is the subset of the resilient client surface used by health checks.
type Conn interface {
	PingContext(ctx context.Context) error
	Writable(ctx context.Context) (bool, error)
	ConnectionID() string
	Driver() string
}

// ConnChecker checks the managed database connection
type ConnChecker struct {
	conn Conn
	name string
}

// NewConnChecker creates a new connection health checker
func NewConnChecker(conn Conn, name string) *ConnChecker {
	return &ConnChecker{
		conn: conn,
		name: name,
	}
}

// Check performs the connection health check. A reachable endpoint that
// still reports read-only counts as degraded rather than unhealthy.
func (cc *ConnChecker) Check(ctx context.Context) *Check {
	start := time.Now()
	check := &Check{
		Name:      cc.name,
		Timestamp: start,
	}

	if cc.conn == nil {
		check.Status = StatusUnhealthy
		check.Error = "connection is nil"
		check.Duration = time.Since(start)
		return check
	}

	if err := cc.conn.PingContext(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Error = err.Error()
		check.Duration = time.Since(start)
		return check
	}

	check.Metadata = map[string]string{
		"driver":        cc.conn.Driver(),
		"connection_id": cc.conn.ConnectionID(),
	}

	writable, err := cc.conn.Writable(ctx)
	check.Duration = time.Since(start)
	if err != nil {
		check.Status = StatusDegraded
		check.Message = "connection is reachable but its writable status is unknown"
		check.Error = err.Error()
		return check
	}

	check.Metadata["writable"] = fmt.Sprintf("%t", writable)
	if !writable {
		check.Status = StatusDegraded
		check.Message = "endpoint still reports read-only"
		return check
	}

	check.Status = StatusHealthy
	check.Message = "connection is healthy"
	return check
}

// CustomChecker allows for custom health checks
type CustomChecker struct {
	name     string
	checkFn  func(ctx context.Context) (Status, string, error)
	metadata map[string]string
}

// NewCustomChecker creates a new custom health checker
func NewCustomChecker(name string, checkFn func(ctx context.Context) (Status, string, error)) *CustomChecker {
	return &CustomChecker{
		name:     name,
		checkFn:  checkFn,
		metadata: make(map[string]string),
	}
}

// WithMetadata adds metadata to the custom checker
func (cc *CustomChecker) WithMetadata(metadata map[string]string) *CustomChecker {
	cc.metadata = metadata
	return cc
}

// Check performs custom health check
func (cc *CustomChecker) Check(ctx context.Context) *Check {
	start := time.Now()
	check := &Check{
		Name:      cc.name,
		Timestamp: start,
		Metadata:  cc.metadata,
	}

	status, message, err := cc.checkFn(ctx)
	check.Status = status
	check.Message = message
	check.Duration = time.Since(start)

	if err != nil {
		check.Error = err.Error()
		if check.Status == StatusHealthy {
			check.Status = StatusUnhealthy
		}
	}

	return check
}

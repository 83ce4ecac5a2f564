package monitor

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/steadydb/failover/pkg/logging"
)

// Routes builds the monitor's HTTP surface
func (s *Service) Routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())
	router.Use(securityHeaders())
	router.Use(s.metrics.PrometheusMiddleware())
	if s.tracer != nil {
		router.Use(s.tracer.TracingMiddleware())
	}
	router.Use(cors.New(s.corsConfig()))

	router.GET("/healthz", s.health.Handler())
	router.GET("/livez", s.health.LivenessHandler())
	router.GET("/readyz", s.health.ReadinessHandler())
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	router.GET("/status", s.handleStatus)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// requestLogger logs request completion with a correlation ID, echoing the ID
// back so callers can reference it in reports.
func (s *Service) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = logging.NewCorrelationID()
		}

		ctx := logging.WithCorrelationID(c.Request.Context(), correlationID)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Correlation-ID", correlationID)

		c.Next()

		s.logger.WithContext(ctx).WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status_code": c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"client_ip":   c.ClientIP(),
		}).Debug("Request completed")
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("X-Robots-Tag", "noindex, nofollow")
		c.Next()
	}
}

func (s *Service) corsConfig() cors.Config {
	config := cors.Config{
		AllowOrigins: s.config.AllowedOrigins,
		AllowMethods: []string{"GET", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	}

	// A single "*" means any origin; the cors package wants that expressed
	// through AllowAllOrigins rather than a wildcard entry.
	if len(config.AllowOrigins) == 0 ||
		(len(config.AllowOrigins) == 1 && config.AllowOrigins[0] == "*") {
		config.AllowAllOrigins = true
		config.AllowOrigins = nil
	}

	return config
}

func (s *Service) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Status())
}

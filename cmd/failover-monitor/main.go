package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/steadydb/failover/internal/monitor"
	"github.com/steadydb/failover/pkg/config"
	"github.com/steadydb/failover/pkg/driver"
	"github.com/steadydb/failover/pkg/driver/mysql"
	"github.com/steadydb/failover/pkg/driver/postgres"
	"github.com/steadydb/failover/pkg/failover"
	"github.com/steadydb/failover/pkg/logging"
	"github.com/steadydb/failover/pkg/metrics"
	"github.com/steadydb/failover/pkg/tracing"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logging
	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     cfg.Tracing.ServiceVersion,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	// Initialize metrics
	m := metrics.NewMetrics(&metrics.Config{
		Namespace: cfg.Metrics.Namespace,
		Enabled:   cfg.Metrics.Enabled,
	})

	// Initialize tracing
	tracer, err := tracing.NewTracingService(&tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Environment:    cfg.Tracing.Environment,
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	// Build the driver adapter for the configured endpoint
	connector, lostMarkers, err := newConnector(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to build database connector: %v", err)
	}

	// Build the resilient client
	opts := failover.DefaultOptions()
	opts.MaxRetry = cfg.Failover.MaxRetry
	opts.DisconnectOnReadOnly = cfg.Failover.DisconnectOnReadOnly
	opts.SleepBeforeDisconnect = cfg.Failover.SleepBeforeDisconnect
	opts.ConnectionLostMarkers = lostMarkers
	opts.Hooks = m.ClientHooks(connector.Driver())
	opts.Logger = logger

	connectCtx, connectCancel := context.WithTimeout(context.Background(), 2*cfg.Database.ConnectTimeout)
	client, err := failover.New(connectCtx, connector, opts)
	connectCancel()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer client.Close()

	log.Println("Database connection established")

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create the monitor service and its HTTP surface
	svc := monitor.NewService(client, monitor.Config{
		ProbeInterval:  cfg.Monitor.ProbeInterval,
		ProbeQuery:     cfg.Monitor.ProbeQuery,
		AllowedOrigins: cfg.Monitor.AllowedOrigins,
	}, logger, m, tracer)

	router := svc.Routes()

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start the probe loop
	probeCtx, probeCancel := context.WithCancel(context.Background())
	defer probeCancel()
	go svc.Start(probeCtx)

	// Start server in a goroutine
	go func() {
		log.Printf("Starting monitor server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	probeCancel()
	svc.Stop()

	// Give outstanding requests 30 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	if err := tracer.Shutdown(ctx); err != nil {
		log.Printf("Tracing shutdown failed: %v", err)
	}

	log.Println("Server exited")
}

// newConnector builds the adapter for the configured driver along with the
// driver-specific connection-lost markers for the classifier.
func newConnector(cfg *config.DatabaseConfig) (driver.Connector, []string, error) {
	switch cfg.Driver {
	case "mysql":
		connector, err := mysql.NewConnector(mysql.Config{
			Host:             cfg.Host,
			Port:             cfg.Port,
			User:             cfg.User,
			Password:         cfg.Password,
			Database:         cfg.Name,
			ConnectTimeout:   cfg.ConnectTimeout,
			ReadOnlyVariable: cfg.ReadOnlyVariable,
			SessionVars:      cfg.SessionVars,
		})
		if err != nil {
			return nil, nil, err
		}
		return connector, mysql.LostConnectionMarkers, nil
	case "postgres":
		connector, err := postgres.NewConnector(postgres.Config{
			Host:             cfg.Host,
			Port:             cfg.Port,
			User:             cfg.User,
			Password:         cfg.Password,
			Database:         cfg.Name,
			SSLMode:          cfg.SSLMode,
			ConnectTimeout:   cfg.ConnectTimeout,
			ReadOnlyVariable: cfg.ReadOnlyVariable,
			SessionVars:      cfg.SessionVars,
		})
		if err != nil {
			return nil, nil, err
		}
		return connector, postgres.LostConnectionMarkers, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

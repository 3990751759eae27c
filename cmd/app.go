package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"capway/app/handler"
	"capway/internal/dispatch"
	"capway/internal/idempotency"
	"capway/internal/jobs"
	"capway/internal/policy"
	"capway/internal/registry"
	"capway/internal/router"
	"capway/internal/slo"
	"capway/internal/transport"
	"capway/pkg/config"
	"capway/pkg/logger"
	"capway/pkg/metrics"
	mysqlstore "capway/pkg/store/mysql"
	redisstore "capway/pkg/store/redis"

	"github.com/gin-gonic/gin"
)

// Application manages the lifecycle of the entire application
type Application struct {
	// Infrastructure components
	config      *config.Config
	redisClient *redisstore.RedisClient
	mysqlRepo   *mysqlstore.Repository // optional audit store

	// Core components
	registry     *registry.Registry
	sloStore     *slo.Store
	idemCache    *idempotency.Cache
	policySource *policy.FileSource
	evaluator    *policy.Evaluator
	router       *router.Router
	invoker      *transport.HTTPInvoker
	metricsSink  *metrics.PrometheusSink
	dispatcher   *dispatch.Dispatcher

	// Handler layer
	invokeHandler *handler.InvokeHandler
	workerHandler *handler.WorkerHandler
	sloHandler    *handler.SLOHandler
	auditHandler  *handler.AuditHandler

	// HTTP server
	httpServer *http.Server
	ginEngine  *gin.Engine

	// Background tasks
	jobsManager *jobs.Manager

	// Context management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewApplication creates a new Application instance
func NewApplication() *Application {
	ctx, cancel := context.WithCancel(context.Background())
	return &Application{
		ctx:    ctx,
		cancel: cancel,
	}
}

// Initialize initializes all application components
func (app *Application) Initialize() error {
	var err error

	// Initialize components in order
	steps := []struct {
		name string
		fn   func() error
	}{
		{"Configuration", app.initConfig},
		{"Logging", app.initLogger},
		{"Redis", app.initRedis},
		{"MySQL", app.initMySQL},
		{"Core Components", app.initCore},
		{"Background Tasks", app.initJobs},
		{"Handler Layer", app.initHandlers},
		{"HTTP Server", app.initHTTPServer},
	}

	for _, step := range steps {
		logger.InfoCtx(app.ctx, "Initializing %s...", step.name)
		if err = step.fn(); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		logger.InfoCtx(app.ctx, "%s initialized successfully", step.name)
	}

	logger.InfoCtx(app.ctx, "Application initialization completed")
	return nil
}

// Start starts all application components
func (app *Application) Start() error {
	logger.InfoCtx(app.ctx, "Starting application components...")

	// 1. Start background tasks
	if app.jobsManager != nil {
		logger.InfoCtx(app.ctx, "Starting background task manager")
		app.jobsManager.Start()
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.jobsManager.Wait()
		}()
	}

	// 2. Start HTTP server
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		addr := fmt.Sprintf(":%d", app.config.Server.Port)
		logger.InfoCtx(app.ctx, "HTTP server listening on: %s", addr)
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.FatalCtx(app.ctx, "HTTP server error: %v", err)
		}
	}()

	logger.InfoCtx(app.ctx, "All components started successfully")
	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown(timeout time.Duration) error {
	logger.InfoCtx(app.ctx, "Starting graceful shutdown (timeout: %v)...", timeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// 1. Cancel all background tasks
	logger.InfoCtx(app.ctx, "Canceling background tasks...")
	app.cancel()
	if app.jobsManager != nil {
		app.jobsManager.Stop()
	}

	// 2. Stop HTTP server (stop accepting new requests)
	logger.InfoCtx(app.ctx, "Shutting down HTTP server...")
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.ErrorCtx(app.ctx, "HTTP server shutdown error: %v", err)
	}

	// 3. Wait for in-flight goroutines
	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.WarnCtx(app.ctx, "Shutdown timed out waiting for background tasks")
	}

	// 4. Close storage connections
	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			logger.ErrorCtx(app.ctx, "Redis close error: %v", err)
		}
	}
	if app.mysqlRepo != nil {
		if err := app.mysqlRepo.Close(); err != nil {
			logger.ErrorCtx(app.ctx, "MySQL close error: %v", err)
		}
	}

	_ = logger.Sync()
	return nil
}

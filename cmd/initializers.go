package main

import (
	"fmt"
	"net/http"
	"time"

	"capway/app/handler"
	approuter "capway/app/router"
	"capway/internal/dispatch"
	"capway/internal/idempotency"
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

// initConfig initializes configuration
func (app *Application) initConfig() error {
	if err := config.Init(); err != nil {
		return err
	}
	app.config = config.GlobalConfig
	return nil
}

// initLogger initializes logging
func (app *Application) initLogger() error {
	return logger.Init()
}

// initRedis initializes Redis (idempotency cache backend)
func (app *Application) initRedis() error {
	client, err := redisstore.NewRedisClient(app.config)
	if err != nil {
		return err
	}
	app.redisClient = client
	return nil
}

// initMySQL initializes the MySQL audit store. Audit persistence is
// optional: with no database configured, denial records are not kept
// and the audit endpoint is disabled.
func (app *Application) initMySQL() error {
	if app.config.MySQL.Host == "" || app.config.MySQL.Database == "" {
		logger.InfoCtx(app.ctx, "MySQL not configured, audit store disabled")
		return nil
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		app.config.MySQL.User,
		app.config.MySQL.Password,
		app.config.MySQL.Host,
		app.config.MySQL.Port,
		app.config.MySQL.Database,
	)

	repo, err := mysqlstore.NewRepository(dsn)
	if err != nil {
		return err
	}

	app.mysqlRepo = repo
	return nil
}

// initCore initializes the routing core: registry, SLO store, policy
// evaluator, idempotency cache, router, worker transport and dispatcher.
func (app *Application) initCore() error {
	workerCfg := app.config.Worker
	app.registry = registry.New(
		time.Duration(workerCfg.HealthThreshold)*time.Second,
		time.Duration(workerCfg.StaleThreshold)*time.Second,
	)

	app.sloStore = slo.NewStore()
	if app.config.SLO.Dir != "" {
		if err := app.sloStore.Load(app.config.SLO.Dir); err != nil {
			return fmt.Errorf("load SLO definitions from %s: %w", app.config.SLO.Dir, err)
		}
	}

	source, err := policy.NewFileSource(app.config.Policy.File)
	if err != nil {
		return fmt.Errorf("load policy table from %s: %w", app.config.Policy.File, err)
	}
	app.policySource = source
	app.evaluator = policy.NewEvaluator(source, time.Duration(app.config.Policy.EvalTimeoutMs)*time.Millisecond)

	app.idemCache = idempotency.NewCache(
		app.redisClient.GetClient(),
		time.Duration(app.config.Idempotency.TTLSeconds)*time.Second,
		app.config.Idempotency.MaxEntries,
	)

	app.router = router.New(app.registry, app.sloStore)
	app.invoker = transport.NewHTTPInvoker(time.Duration(app.config.Transport.InvokeTimeoutSeconds) * time.Second)
	app.metricsSink = metrics.NewPrometheusSink()

	var audit dispatch.AuditSink
	if app.mysqlRepo != nil {
		audit = app.mysqlRepo.Audit
	}
	app.dispatcher = dispatch.New(app.idemCache, app.evaluator, app.router, app.invoker, app.sloStore, app.metricsSink, audit)

	return nil
}

// initHandlers initializes the HTTP handler layer
func (app *Application) initHandlers() error {
	app.invokeHandler = handler.NewInvokeHandler(app.dispatcher)
	app.workerHandler = handler.NewWorkerHandler(app.registry)
	app.sloHandler = handler.NewSLOHandler(app.sloStore)
	if app.mysqlRepo != nil {
		app.auditHandler = handler.NewAuditHandler(app.mysqlRepo.Audit)
	}
	return nil
}

// initHTTPServer initializes HTTP server
func (app *Application) initHTTPServer() error {
	r := approuter.NewRouter(app.invokeHandler, app.workerHandler, app.sloHandler, app.auditHandler, app.metricsSink.Handler())

	// Set Gin mode
	gin.SetMode(app.config.Server.Mode)

	// Create Gin engine
	app.ginEngine = gin.New()

	// Setup routes
	r.Setup(app.ginEngine)

	// Create HTTP server
	app.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", app.config.Server.Port),
		Handler: app.ginEngine,
	}

	return nil
}

package main

import (
	"time"

	"capway/internal/jobs"
	"capway/internal/policy"
	"capway/internal/registry"
	"capway/internal/slo"
	"capway/pkg/logger"
	"capway/pkg/notification"
)

func (app *Application) initJobs() error {
	if app.registry == nil {
		logger.WarnCtx(app.ctx, "Core components not initialized yet, skipping background task registration")
		return nil
	}

	manager := jobs.NewManager(app.ctx)

	sweepInterval := time.Duration(app.config.Worker.HeartbeatInterval) * time.Second
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	manager.Register(registry.NewSweepJob(app.registry, sweepInterval))

	// Policy hot reload is opt-in; with it disabled the table loaded at
	// startup stays in effect for the life of the process.
	if app.config.Policy.ReloadIntervalSeconds > 0 {
		reloadInterval := time.Duration(app.config.Policy.ReloadIntervalSeconds) * time.Second
		manager.Register(policy.NewReloadJob(app.policySource, reloadInterval))
	}

	// SLO violation alerting; the job is a no-op when no webhook is configured.
	notifier := notification.NewFeishuNotifier()
	if notifier.Enabled() {
		alertInterval := time.Duration(app.config.Notification.CheckIntervalSeconds) * time.Second
		manager.Register(slo.NewAlertJob(app.sloStore, notifier, alertInterval))
	}

	app.jobsManager = manager
	return nil
}

package slo

import (
	"context"
	"time"

	"capway/pkg/logger"
	"capway/pkg/notification"
)

// Notifier delivers SLO violation alerts.
type Notifier interface {
	Enabled() bool
	SendSLOViolation(ctx context.Context, violation notification.SLOViolation) error
}

// AlertJob periodically scans the SLO status snapshot and alerts when a
// capability crosses into budget violation. Alerts are edge-triggered: one
// alert per excursion, re-armed when the capability recovers.
type AlertJob struct {
	store    *Store
	notifier Notifier
	interval time.Duration
	flagged  map[string]bool
}

func NewAlertJob(store *Store, notifier Notifier, interval time.Duration) *AlertJob {
	return &AlertJob{
		store:    store,
		notifier: notifier,
		interval: interval,
		flagged:  make(map[string]bool),
	}
}

func (j *AlertJob) Name() string {
	return "slo-violation-alert"
}

func (j *AlertJob) Interval() time.Duration {
	return j.interval
}

func (j *AlertJob) Run(ctx context.Context) error {
	if j.notifier == nil || !j.notifier.Enabled() {
		return nil
	}

	for _, status := range j.store.Status() {
		wasFlagged := j.flagged[status.CapabilityKey]
		j.flagged[status.CapabilityKey] = status.OverBudget

		if !status.OverBudget || wasFlagged {
			continue
		}

		violation := notification.SLOViolation{
			CapabilityKey: status.CapabilityKey,
			TargetP95Ms:   status.TargetP95Ms,
			ObservedP95Ms: status.ObservedP95Ms,
			SampleCount:   status.SampleCount,
			SuccessRate:   status.SuccessRate,
			DetectedAt:    time.Now().UTC(),
		}
		if err := j.notifier.SendSLOViolation(ctx, violation); err != nil {
			logger.WarnCtx(ctx, "failed to send SLO alert for %s: %v", status.CapabilityKey, err)
		}
	}
	return nil
}

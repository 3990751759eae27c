package registry

import (
	"context"
	"time"

	"capway/pkg/logger"
)

// SweepJob periodically purges stale workers. It runs on the shared
// background job manager, independent of request traffic.
type SweepJob struct {
	registry *Registry
	interval time.Duration
}

// NewSweepJob creates the stale sweep job.
func NewSweepJob(registry *Registry, interval time.Duration) *SweepJob {
	return &SweepJob{registry: registry, interval: interval}
}

func (j *SweepJob) Name() string {
	return "registry-stale-sweep"
}

func (j *SweepJob) Interval() time.Duration {
	return j.interval
}

func (j *SweepJob) Run(ctx context.Context) error {
	removed := j.registry.SweepStale(time.Now())
	if removed > 0 {
		logger.InfoCtx(ctx, "stale sweep removed %d workers, %d remaining", removed, j.registry.Count())
	}
	return nil
}

package policy

import (
	"context"
	"time"
)

// ReloadJob refreshes a file-backed policy source on an interval so policy
// edits take effect without a restart.
type ReloadJob struct {
	source   *FileSource
	interval time.Duration
}

// NewReloadJob creates the policy reload job.
func NewReloadJob(source *FileSource, interval time.Duration) *ReloadJob {
	return &ReloadJob{source: source, interval: interval}
}

func (j *ReloadJob) Name() string {
	return "policy-reload"
}

func (j *ReloadJob) Interval() time.Duration {
	return j.interval
}

func (j *ReloadJob) Run(ctx context.Context) error {
	// A failed reload is reported but the last good table keeps serving.
	return j.source.Reload()
}

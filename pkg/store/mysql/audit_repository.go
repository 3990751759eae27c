package mysql

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AuditRepository persists request outcomes for offline audit.
type AuditRepository struct {
	ds *Datastore
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(ds *Datastore) *AuditRepository {
	return &AuditRepository{ds: ds}
}

// Record creates one outcome row.
func (r *AuditRepository) Record(ctx context.Context, outcome *RequestOutcome) error {
	if outcome.RequestID == "" {
		outcome.RequestID = uuid.New().String()
	}
	if outcome.OccurredAt.IsZero() {
		outcome.OccurredAt = time.Now()
	}
	return r.ds.DB(ctx).Create(outcome).Error
}

// RecentDenials returns the newest denial and SLO rejection rows, newest
// first, capped at limit.
func (r *AuditRepository) RecentDenials(ctx context.Context, limit int) ([]*RequestOutcome, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []*RequestOutcome
	err := r.ds.DB(ctx).
		Where("outcome IN ?", []string{OutcomeDenied, OutcomeSLORejected}).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// CountByOutcome aggregates outcomes for one capability since the given time.
func (r *AuditRepository) CountByOutcome(ctx context.Context, capabilityKey string, since time.Time) (map[string]int64, error) {
	type row struct {
		Outcome string
		Count   int64
	}
	var rows []row
	err := r.ds.DB(ctx).
		Model(&RequestOutcome{}).
		Select("outcome, COUNT(*) AS count").
		Where("capability_key = ? AND occurred_at >= ?", capabilityKey, since).
		Group("outcome").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Outcome] = r.Count
	}
	return out, nil
}

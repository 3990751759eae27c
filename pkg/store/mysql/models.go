package mysql

import "time"

// Outcome classification for audit rows.
const (
	OutcomeSuccess     = "SUCCESS"
	OutcomeReplay      = "REPLAY"
	OutcomeDenied      = "DENIED"
	OutcomeSLORejected = "SLO_REJECTED"
	OutcomeNoWorker    = "NO_WORKER"
	OutcomeInvokeError = "INVOKE_ERROR"
)

// RequestOutcome MySQL model for request_outcomes table. One row per
// terminal request state; denials and SLO rejections carry the reason so
// operators can audit who was rejected and why.
type RequestOutcome struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RequestID     string    `gorm:"column:request_id;type:varchar(64);not null;uniqueIndex:idx_request_id_unique" json:"request_id"`
	Identity      string    `gorm:"column:identity;type:varchar(255);not null;index:idx_identity_time,priority:1" json:"identity"`
	CapabilityKey string    `gorm:"column:capability_key;type:varchar(255);not null;index:idx_capability_time,priority:1" json:"capability_key"`
	Outcome       string    `gorm:"column:outcome;type:varchar(32);not null;index:idx_outcome" json:"outcome"`
	Reason        string    `gorm:"column:reason;type:text" json:"reason"`
	WorkerID      string    `gorm:"column:worker_id;type:varchar(255)" json:"worker_id"`
	LatencyMs     int64     `gorm:"column:latency_ms;type:bigint" json:"latency_ms"`
	Replay        bool      `gorm:"column:replay;type:tinyint(1);default:0" json:"replay"`
	OccurredAt    time.Time `gorm:"column:occurred_at;type:datetime(3);not null;default:CURRENT_TIMESTAMP(3);index:idx_identity_time,priority:2;index:idx_capability_time,priority:2" json:"occurred_at"`
}

// TableName specifies the table name for RequestOutcome
func (RequestOutcome) TableName() string {
	return "request_outcomes"
}

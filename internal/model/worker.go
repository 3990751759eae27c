package model

import (
	"time"
)

// WorkerEndpoint is a worker node known to the registry.
type WorkerEndpoint struct {
	ID            string                 `json:"id"`
	Address       string                 `json:"address"` // Base URL the worker serves invocations on
	Capabilities  []CapabilityDescriptor `json:"capabilities"`
	LastHeartbeat time.Time              `json:"last_heartbeat"`
	LoadScore     float64                `json:"load_score"` // Reported by the worker on every heartbeat; lower is less loaded
	RegisteredAt  time.Time              `json:"registered_at"`
}

// Healthy reports whether the worker is eligible for routing at the given
// instant. A worker drops out of routing after the health threshold but is
// only purged from the registry after the (longer) stale threshold, so a
// single late heartbeat does not cause flapping.
func (w *WorkerEndpoint) Healthy(now time.Time, healthThreshold time.Duration) bool {
	if w.LastHeartbeat.IsZero() {
		return false
	}
	return now.Sub(w.LastHeartbeat) < healthThreshold
}

// RegisterRequest is the worker registration payload.
type RegisterRequest struct {
	WorkerID     string                 `json:"worker_id" binding:"required"`
	Address      string                 `json:"address" binding:"required"`
	Capabilities []CapabilityDescriptor `json:"capabilities" binding:"required"`
}

// HeartbeatRequest is the periodic liveness payload.
type HeartbeatRequest struct {
	LoadScore float64 `json:"load_score"`
}

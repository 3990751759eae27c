package model

import "encoding/json"

// Priority of an invocation request. Low-priority traffic is the first to be
// shed when a capability is over its latency budget.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is a recognized priority value.
func (p Priority) Valid() bool {
	return p == PriorityNormal || p == PriorityLow
}

// InvokeRequest is the client-facing invocation payload.
type InvokeRequest struct {
	Verb           string          `json:"verb" binding:"required"`
	Capability     string          `json:"capability" binding:"required"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Priority       Priority        `json:"priority,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// InvokeResponse is returned on successful invocation, fresh or replayed.
type InvokeResponse struct {
	Result           json.RawMessage `json:"result"`
	WorkerID         string          `json:"worker_id"`
	IdempotentReplay bool            `json:"idempotent_replay"`
}

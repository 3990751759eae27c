package model

import "fmt"

// CapabilityDescriptor describes one invocable operation a worker advertises.
// Descriptors are immutable once registered; a worker may advertise several.
type CapabilityDescriptor struct {
	Verb           string                 `json:"verb" binding:"required"`
	Name           string                 `json:"name" binding:"required"`
	Version        string                 `json:"version,omitempty"`
	InputSchema    map[string]interface{} `json:"input_schema,omitempty"`
	OutputSchema   map[string]interface{} `json:"output_schema,omitempty"`
	RequiresGPU    bool                   `json:"requires_gpu,omitempty"`
	MaxConcurrency int                    `json:"max_concurrency,omitempty"`
}

// Key returns the routing key for this descriptor. Version is advisory and
// deliberately not part of the key: two workers advertising the same
// verb:name at different versions are interchangeable for routing.
func (d CapabilityDescriptor) Key() string {
	return CapabilityKey(d.Verb, d.Name)
}

// CapabilityKey builds the verb:name routing key.
func CapabilityKey(verb, name string) string {
	return fmt.Sprintf("%s:%s", verb, name)
}

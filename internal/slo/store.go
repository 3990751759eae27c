// Package slo loads per-capability service level objectives and tracks a
// rolling latency window per capability so the router can shed low-priority
// traffic from capabilities that are over budget.
package slo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"capway/pkg/logger"

	"gopkg.in/yaml.v3"
)

// Definition is one capability's objective, loaded at startup and treated as
// read-only configuration.
type Definition struct {
	CapabilityKey         string  `yaml:"capability_key"`
	P50Ms                 float64 `yaml:"p50_ms"`
	P95Ms                 float64 `yaml:"p95_ms"`
	P99Ms                 float64 `yaml:"p99_ms"`
	AvailabilityTarget    float64 `yaml:"availability_target"`
	ErrorBudgetMonthlyPct float64 `yaml:"error_budget_monthly_pct"`
	RejectOnViolation     bool    `yaml:"reject_on_violation"`
	GracePeriodDays       int     `yaml:"grace_period_days"`
}

func (d *Definition) validate() error {
	if d.CapabilityKey == "" {
		return fmt.Errorf("missing capability_key")
	}
	if d.P95Ms <= 0 {
		return fmt.Errorf("p95_ms must be positive, got %v", d.P95Ms)
	}
	if d.AvailabilityTarget <= 0 || d.AvailabilityTarget > 1 {
		return fmt.Errorf("availability_target must be in (0,1], got %v", d.AvailabilityTarget)
	}
	return nil
}

// Store holds SLO definitions and per-capability observation windows.
type Store struct {
	mu          sync.RWMutex
	definitions map[string]*Definition
	windows     map[string]*window
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		definitions: make(map[string]*Definition),
		windows:     make(map[string]*window),
	}
}

// Load reads every *.yaml/*.yml file in dir as one definition. A malformed
// file is logged and skipped; zero loaded definitions from a non-empty
// directory is a startup error.
func (s *Store) Load(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read SLO directory %s: %w", dir, err)
	}

	candidates := 0
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		candidates++

		path := filepath.Join(dir, entry.Name())
		def, err := loadDefinition(path)
		if err != nil {
			logger.Warnf("skipping malformed SLO definition %s: %v", path, err)
			continue
		}

		s.mu.Lock()
		s.definitions[def.CapabilityKey] = def
		s.mu.Unlock()
		loaded++
	}

	if candidates > 0 && loaded == 0 {
		return fmt.Errorf("no SLO definitions loaded from %s (%d candidate files, all malformed)", dir, candidates)
	}

	logger.Infof("loaded %d SLO definitions from %s", loaded, dir)
	return nil
}

func loadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, err
	}
	if err := def.validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Get returns the definition for a capability, or nil when none exists.
func (s *Store) Get(capabilityKey string) *Definition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.definitions[capabilityKey]
}

// Observe records one request outcome into the capability's rolling window.
func (s *Store) Observe(capabilityKey string, latency time.Duration, success bool) {
	s.mu.Lock()
	w, ok := s.windows[capabilityKey]
	if !ok {
		w = newWindow(windowSize)
		s.windows[capabilityKey] = w
	}
	s.mu.Unlock()

	w.observe(float64(latency.Milliseconds()), success)
}

// ObservedP95 returns the rolling p95 latency in milliseconds and whether any
// samples exist.
func (s *Store) ObservedP95(capabilityKey string) (float64, bool) {
	s.mu.RLock()
	w, ok := s.windows[capabilityKey]
	s.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return w.p95()
}

// IsOverBudget reports whether the capability's observed p95 exceeds its
// objective. A capability with no definition or no samples is never over
// budget.
func (s *Store) IsOverBudget(capabilityKey string) bool {
	def := s.Get(capabilityKey)
	if def == nil {
		return false
	}
	observed, ok := s.ObservedP95(capabilityKey)
	if !ok {
		return false
	}
	return observed > def.P95Ms
}

// CapabilityStatus is one row of the SLO status snapshot.
type CapabilityStatus struct {
	CapabilityKey     string  `json:"capability_key"`
	TargetP95Ms       float64 `json:"target_p95_ms"`
	ObservedP95Ms     float64 `json:"observed_p95_ms"`
	SampleCount       int     `json:"sample_count"`
	SuccessRate       float64 `json:"success_rate"`
	OverBudget        bool    `json:"over_budget"`
	RejectOnViolation bool    `json:"reject_on_violation"`
}

// Status returns a snapshot for every capability with a definition.
func (s *Store) Status() []CapabilityStatus {
	s.mu.RLock()
	keys := make([]string, 0, len(s.definitions))
	for key := range s.definitions {
		keys = append(keys, key)
	}
	s.mu.RUnlock()

	out := make([]CapabilityStatus, 0, len(keys))
	for _, key := range keys {
		def := s.Get(key)
		if def == nil {
			continue
		}
		status := CapabilityStatus{
			CapabilityKey:     key,
			TargetP95Ms:       def.P95Ms,
			RejectOnViolation: def.RejectOnViolation,
		}
		s.mu.RLock()
		w := s.windows[key]
		s.mu.RUnlock()
		if w != nil {
			status.ObservedP95Ms, _ = w.p95()
			status.SampleCount, status.SuccessRate = w.stats()
		}
		status.OverBudget = s.IsOverBudget(key)
		out = append(out, status)
	}
	return out
}

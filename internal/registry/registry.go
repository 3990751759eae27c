// Package registry tracks live workers and the capabilities they advertise.
// It is the single owner of the worker table and the verb:name index; other
// components only ever see read-only snapshots.
package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"capway/internal/model"
	"capway/pkg/logger"
)

// ErrUnknownWorker is returned by Heartbeat for workers that were never
// registered or have already been purged. A heartbeat never resurrects a
// purged worker; the caller must re-register.
var ErrUnknownWorker = errors.New("unknown worker")

// Registry is the in-memory worker store with liveness tracking.
type Registry struct {
	healthThreshold time.Duration
	staleThreshold  time.Duration
	now             func() time.Time

	mu           sync.RWMutex
	workers      map[string]*model.WorkerEndpoint
	byCapability map[string]map[string]*model.WorkerEndpoint // verb:name -> workerID -> entry
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates a registry. healthThreshold bounds routing eligibility,
// staleThreshold bounds registry membership; health must not exceed stale.
func New(healthThreshold, staleThreshold time.Duration, opts ...Option) *Registry {
	r := &Registry{
		healthThreshold: healthThreshold,
		staleThreshold:  staleThreshold,
		now:             time.Now,
		workers:         make(map[string]*model.WorkerEndpoint),
		byCapability:    make(map[string]map[string]*model.WorkerEndpoint),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces a worker. Re-registering the same worker ID
// replaces its capability set, refreshes its heartbeat, and drops index
// entries for descriptors no longer advertised.
func (r *Registry) Register(workerID, address string, capabilities []model.CapabilityDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	registeredAt := now
	if existing, ok := r.workers[workerID]; ok {
		registeredAt = existing.RegisteredAt
		r.unindexLocked(existing)
	}

	worker := &model.WorkerEndpoint{
		ID:            workerID,
		Address:       address,
		Capabilities:  append([]model.CapabilityDescriptor(nil), capabilities...),
		LastHeartbeat: now,
		RegisteredAt:  registeredAt,
	}
	r.workers[workerID] = worker
	r.indexLocked(worker)
}

// Heartbeat refreshes a worker's liveness and load score.
func (r *Registry) Heartbeat(workerID string, loadScore float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	worker, ok := r.workers[workerID]
	if !ok {
		return ErrUnknownWorker
	}
	worker.LastHeartbeat = r.now()
	worker.LoadScore = loadScore
	return nil
}

// GetHealthy returns snapshot copies of the workers advertising the given
// capability whose heartbeat is inside the health window. Ordering is
// unspecified; selection policy lives in the router.
func (r *Registry) GetHealthy(capabilityKey string) []*model.WorkerEndpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	indexed, ok := r.byCapability[capabilityKey]
	if !ok {
		return nil
	}

	now := r.now()
	healthy := make([]*model.WorkerEndpoint, 0, len(indexed))
	for _, worker := range indexed {
		if worker.Healthy(now, r.healthThreshold) {
			healthy = append(healthy, snapshot(worker))
		}
	}
	return healthy
}

// Get returns a snapshot of one worker, or nil.
func (r *Registry) Get(workerID string) *model.WorkerEndpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	worker, ok := r.workers[workerID]
	if !ok {
		return nil
	}
	return snapshot(worker)
}

// ListWorkers returns snapshots of every registered worker, sorted by ID.
func (r *Registry) ListWorkers() []*model.WorkerEndpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workers := make([]*model.WorkerEndpoint, 0, len(r.workers))
	for _, worker := range r.workers {
		workers = append(workers, snapshot(worker))
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].ID < workers[j].ID })
	return workers
}

// Count returns the number of registered workers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// SweepStale removes every worker whose heartbeat is older than the stale
// threshold, from the worker table and every index entry. Returns the count
// removed. The removal list is collected under the lock; logging happens
// after release so a large sweep never stalls routing on log IO.
func (r *Registry) SweepStale(now time.Time) int {
	r.mu.Lock()
	removed := make([]string, 0)
	for id, worker := range r.workers {
		if now.Sub(worker.LastHeartbeat) > r.staleThreshold {
			r.unindexLocked(worker)
			delete(r.workers, id)
			removed = append(removed, id)
		}
	}
	r.mu.Unlock()

	for _, id := range removed {
		logger.Infof("purged stale worker %s", id)
	}
	return len(removed)
}

func (r *Registry) indexLocked(worker *model.WorkerEndpoint) {
	for _, desc := range worker.Capabilities {
		key := desc.Key()
		bucket, ok := r.byCapability[key]
		if !ok {
			bucket = make(map[string]*model.WorkerEndpoint)
			r.byCapability[key] = bucket
		}
		bucket[worker.ID] = worker
	}
}

func (r *Registry) unindexLocked(worker *model.WorkerEndpoint) {
	for _, desc := range worker.Capabilities {
		key := desc.Key()
		if bucket, ok := r.byCapability[key]; ok {
			delete(bucket, worker.ID)
			if len(bucket) == 0 {
				delete(r.byCapability, key)
			}
		}
	}
}

func snapshot(worker *model.WorkerEndpoint) *model.WorkerEndpoint {
	cp := *worker
	cp.Capabilities = append([]model.CapabilityDescriptor(nil), worker.Capabilities...)
	return &cp
}

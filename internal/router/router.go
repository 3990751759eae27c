// Package router selects a healthy worker for a (verb, capability) pair.
// Baseline policy is least-loaded by reported load score, with round-robin
// tie-breaking so equally loaded workers are never starved.
package router

import (
	"sort"
	"sync"

	"capway/internal/cperr"
	"capway/internal/model"
	"capway/internal/slo"
)

// WorkerSource is the registry view the router needs.
type WorkerSource interface {
	GetHealthy(capabilityKey string) []*model.WorkerEndpoint
}

// BudgetSource is the SLO view the router needs.
type BudgetSource interface {
	Get(capabilityKey string) *slo.Definition
	IsOverBudget(capabilityKey string) bool
}

// Router picks workers from registry snapshots, gated by SLO budgets.
type Router struct {
	workers WorkerSource
	budgets BudgetSource

	mu         sync.Mutex
	roundRobin map[string]int // per capability key, advances on every tie-break
}

// New creates a router.
func New(workers WorkerSource, budgets BudgetSource) *Router {
	return &Router{
		workers:    workers,
		budgets:    budgets,
		roundRobin: make(map[string]int),
	}
}

// Route returns a worker for the capability, or a kinded error:
// NoWorkerAvailable when no healthy worker advertises it, SLORejected when
// the capability is over budget, enforcement is enabled, and the request is
// low-priority.
func (r *Router) Route(verb, capability string, priority model.Priority) (*model.WorkerEndpoint, error) {
	capabilityKey := model.CapabilityKey(verb, capability)

	healthy := r.workers.GetHealthy(capabilityKey)
	if len(healthy) == 0 {
		return nil, cperr.New(cperr.KindNoWorkerAvailable, "no healthy worker advertises %s", capabilityKey)
	}

	if priority == model.PriorityLow {
		if def := r.budgets.Get(capabilityKey); def != nil && def.RejectOnViolation && r.budgets.IsOverBudget(capabilityKey) {
			return nil, cperr.New(cperr.KindSLORejected, "%s is over its latency budget, low-priority traffic rejected", capabilityKey)
		}
	}

	return r.pick(capabilityKey, healthy), nil
}

// pick chooses the least-loaded worker; among workers sharing the minimum
// load score the choice rotates.
func (r *Router) pick(capabilityKey string, healthy []*model.WorkerEndpoint) *model.WorkerEndpoint {
	sort.Slice(healthy, func(i, j int) bool {
		if healthy[i].LoadScore != healthy[j].LoadScore {
			return healthy[i].LoadScore < healthy[j].LoadScore
		}
		return healthy[i].ID < healthy[j].ID
	})

	minLoad := healthy[0].LoadScore
	ties := 1
	for ties < len(healthy) && healthy[ties].LoadScore == minLoad {
		ties++
	}
	if ties == 1 {
		return healthy[0]
	}

	r.mu.Lock()
	idx := r.roundRobin[capabilityKey] % ties
	r.roundRobin[capabilityKey]++
	r.mu.Unlock()

	return healthy[idx]
}

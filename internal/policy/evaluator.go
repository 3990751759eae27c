// Package policy answers allow/deny for (identity, verb, capability). The
// evaluator is fail-closed: if the policy source cannot be consulted, for any
// reason, the decision is deny. Availability of the authorization mechanism
// must never become availability of unrestricted access.
package policy

import (
	"context"
	"fmt"
	"time"

	"capway/internal/model"
	"capway/pkg/logger"
)

// ReasonPolicyEngineUnavailable is the deny reason for source failures.
const ReasonPolicyEngineUnavailable = "policy_engine_unavailable"

// Decision is the transient outcome of one evaluation.
type Decision struct {
	Allow  bool
	Reason string
}

// Evaluator evaluates requests against a policy source under a timeout.
type Evaluator struct {
	source  Source
	timeout time.Duration
	now     func() time.Time
}

// NewEvaluator creates an evaluator. timeout bounds every source
// consultation; a timeout denies like any other source failure.
func NewEvaluator(source Source, timeout time.Duration) *Evaluator {
	return &Evaluator{
		source:  source,
		timeout: timeout,
		now:     time.Now,
	}
}

// Evaluate decides whether identity may invoke verb:capability.
func (e *Evaluator) Evaluate(ctx context.Context, identity, verb, capability string) Decision {
	capabilityKey := model.CapabilityKey(verb, capability)

	srcCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	table, err := e.snapshot(srcCtx)
	if err != nil {
		logger.WarnCtx(ctx, "policy source unavailable, denying %s for %s: %v", capabilityKey, identity, err)
		return Decision{Allow: false, Reason: ReasonPolicyEngineUnavailable}
	}

	if exc := table.Exception(identity, e.now()); exc != nil {
		return Decision{
			Allow:  true,
			Reason: fmt.Sprintf("temporary_allow_all exception until %s", exc.ExpiresAt.Format(time.RFC3339)),
		}
	}

	if table.Allows(identity, capabilityKey) {
		return Decision{Allow: true}
	}

	return Decision{
		Allow:  false,
		Reason: fmt.Sprintf("%s not authorized for %s", identity, capabilityKey),
	}
}

// snapshot consults the source, honoring cancellation even when the source
// implementation itself ignores the context.
func (e *Evaluator) snapshot(ctx context.Context) (*Table, error) {
	type result struct {
		table *Table
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		table, err := e.source.Snapshot(ctx)
		ch <- result{table, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.table, r.err
	}
}

// Package dispatch orchestrates one inbound request through the control
// plane: idempotency reservation, policy check, routing, worker invocation,
// outcome recording, and result caching. The pipeline is linear; there are
// no internal retries.
package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"capway/internal/cperr"
	"capway/internal/idempotency"
	"capway/internal/model"
	"capway/internal/policy"
	"capway/internal/slo"
	"capway/internal/transport"
	"capway/pkg/logger"
	"capway/pkg/metrics"
	"capway/pkg/store/mysql"
)

// Request is one inbound invocation with its verified caller identity.
type Request struct {
	Identity       string
	Verb           string
	Capability     string
	IdempotencyKey string
	Priority       model.Priority
	Payload        json.RawMessage
}

// WorkerRouter selects a worker for a capability.
type WorkerRouter interface {
	Route(verb, capability string, priority model.Priority) (*model.WorkerEndpoint, error)
}

// AuditSink persists terminal request outcomes. Writes are best-effort; an
// audit failure never fails the request.
type AuditSink interface {
	Record(ctx context.Context, outcome *mysql.RequestOutcome) error
}

// Dispatcher wires the pipeline together.
type Dispatcher struct {
	cache    *idempotency.Cache
	policy   *policy.Evaluator
	router   WorkerRouter
	invoker  transport.Invoker
	sloStore *slo.Store
	metrics  metrics.Sink
	audit    AuditSink // optional
}

// New creates a dispatcher. audit may be nil when no audit store is
// configured.
func New(cache *idempotency.Cache, evaluator *policy.Evaluator, router WorkerRouter, invoker transport.Invoker, sloStore *slo.Store, sink metrics.Sink, audit AuditSink) *Dispatcher {
	return &Dispatcher{
		cache:    cache,
		policy:   evaluator,
		router:   router,
		invoker:  invoker,
		sloStore: sloStore,
		metrics:  sink,
		audit:    audit,
	}
}

// Handle runs one request through the pipeline.
func (d *Dispatcher) Handle(ctx context.Context, req *Request) (*model.InvokeResponse, error) {
	if req.Priority == "" {
		req.Priority = model.PriorityNormal
	}
	capabilityKey := model.CapabilityKey(req.Verb, req.Capability)

	// 1. Idempotency check. A cache failure downgrades to no-dedup rather
	// than failing the request.
	reserved := false
	if req.IdempotencyKey != "" {
		outcome, cached, err := d.cache.Reserve(ctx, req.IdempotencyKey)
		switch {
		case err != nil:
			logger.WarnCtx(ctx, "idempotency cache unavailable, proceeding without dedup: %v", err)
		case outcome == idempotency.ReserveReplay:
			logger.InfoCtx(ctx, "idempotent replay for key %s on %s (original worker %s)", req.IdempotencyKey, capabilityKey, cached.WorkerID)
			d.metrics.ObserveReplay(capabilityKey)
			d.recordAudit(ctx, req, capabilityKey, mysql.OutcomeReplay, "", cached.WorkerID, 0, true)
			return &model.InvokeResponse{
				Result:           cached.Result,
				WorkerID:         cached.WorkerID,
				IdempotentReplay: true,
			}, nil
		case outcome == idempotency.ReserveInFlight:
			return nil, cperr.New(cperr.KindRequestInFlight, "request with idempotency key %s is already executing", req.IdempotencyKey)
		default:
			reserved = true
		}
	}

	// 2. Policy check, audit-logged regardless of outcome.
	decision := d.policy.Evaluate(ctx, req.Identity, req.Verb, req.Capability)
	if !decision.Allow {
		logger.WarnCtx(ctx, "policy denied %s for %s: %s", capabilityKey, req.Identity, decision.Reason)
		d.releaseIfReserved(ctx, req, reserved)
		d.recordAudit(ctx, req, capabilityKey, mysql.OutcomeDenied, decision.Reason, "", 0, false)

		kind := cperr.KindCapabilityAccessDenied
		if decision.Reason == policy.ReasonPolicyEngineUnavailable {
			kind = cperr.KindPolicyEngineUnavailable
		}
		return nil, cperr.New(kind, "%s", decision.Reason)
	}
	logger.DebugCtx(ctx, "policy allowed %s for %s", capabilityKey, req.Identity)

	// 3. Route.
	worker, err := d.router.Route(req.Verb, req.Capability, req.Priority)
	if err != nil {
		d.releaseIfReserved(ctx, req, reserved)
		outcome := mysql.OutcomeNoWorker
		if cperr.IsKind(err, cperr.KindSLORejected) {
			outcome = mysql.OutcomeSLORejected
			logger.WarnCtx(ctx, "SLO rejection of %s for %s: %v", capabilityKey, req.Identity, err)
		}
		d.recordAudit(ctx, req, capabilityKey, outcome, err.Error(), "", 0, false)
		return nil, err
	}

	// 4. Invoke. No registry or idempotency lock is held across this call.
	start := time.Now()
	result, err := d.invoker.Invoke(ctx, worker, req.Verb, req.Capability, req.Payload)
	latency := time.Since(start)

	if err != nil {
		d.releaseIfReserved(ctx, req, reserved)
		d.sloStore.Observe(capabilityKey, latency, false)
		d.metrics.ObserveInvocation(capabilityKey, "failure", latency)
		d.recordAudit(ctx, req, capabilityKey, mysql.OutcomeInvokeError, err.Error(), worker.ID, latency.Milliseconds(), false)
		return nil, cperr.Wrap(cperr.KindWorkerInvocationFailed, err, "invocation of %s on worker %s failed", capabilityKey, worker.ID)
	}

	// A cancelled request must never reach the cache write.
	if ctx.Err() != nil {
		d.releaseIfReserved(ctx, req, reserved)
		return nil, cperr.Wrap(cperr.KindWorkerInvocationFailed, ctx.Err(), "request cancelled after invoking %s", capabilityKey)
	}

	// 5. Record outcome.
	d.sloStore.Observe(capabilityKey, latency, true)
	d.metrics.ObserveInvocation(capabilityKey, "success", latency)
	d.recordAudit(ctx, req, capabilityKey, mysql.OutcomeSuccess, "", worker.ID, latency.Milliseconds(), false)

	// 6. Cache if idempotent.
	if reserved {
		if err := d.cache.Store(ctx, req.IdempotencyKey, result, worker.ID, capabilityKey); err != nil {
			logger.WarnCtx(ctx, "failed to store idempotency entry for key %s: %v", req.IdempotencyKey, err)
			d.releaseIfReserved(ctx, req, reserved)
		}
	}

	return &model.InvokeResponse{
		Result:   result,
		WorkerID: worker.ID,
	}, nil
}

// releaseIfReserved drops the in-flight marker so a retry can run fresh.
// Uses a detached context: the reservation must be released even when the
// request's own context is already cancelled.
func (d *Dispatcher) releaseIfReserved(ctx context.Context, req *Request, reserved bool) {
	if !reserved {
		return
	}
	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.cache.Release(releaseCtx, req.IdempotencyKey); err != nil {
		logger.WarnCtx(ctx, "failed to release idempotency key %s: %v", req.IdempotencyKey, err)
	}
}

func (d *Dispatcher) recordAudit(ctx context.Context, req *Request, capabilityKey, outcome, reason, workerID string, latencyMs int64, replay bool) {
	if d.audit == nil {
		return
	}
	requestID := logger.RequestID(ctx)
	if requestID == "0" {
		requestID = "" // let the repository assign one
	}
	row := &mysql.RequestOutcome{
		RequestID:     requestID,
		Identity:      req.Identity,
		CapabilityKey: capabilityKey,
		Outcome:       outcome,
		Reason:        reason,
		WorkerID:      workerID,
		LatencyMs:     latencyMs,
		Replay:        replay,
	}
	if err := d.audit.Record(ctx, row); err != nil {
		logger.WarnCtx(ctx, "failed to record audit outcome: %v", err)
	}
}

package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"capway/internal/cperr"
	"capway/internal/idempotency"
	"capway/internal/model"
	"capway/internal/policy"
	"capway/internal/registry"
	"capway/internal/router"
	"capway/internal/slo"
	"capway/pkg/metrics"
	"capway/pkg/store/mysql"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeInvoker counts invocations and returns a canned result per capability.
type fakeInvoker struct {
	mu      sync.Mutex
	calls   int
	result  json.RawMessage
	err     error
	blockOn chan struct{} // when set, Invoke waits for the channel to close
}

func (f *fakeInvoker) Invoke(ctx context.Context, worker *model.WorkerEndpoint, verb, capability string, payload json.RawMessage) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.blockOn != nil {
		select {
		case <-f.blockOn:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeInvoker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeAudit collects outcome rows in memory.
type fakeAudit struct {
	mu   sync.Mutex
	rows []*mysql.RequestOutcome
}

func (f *fakeAudit) Record(ctx context.Context, outcome *mysql.RequestOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *outcome
	f.rows = append(f.rows, &cp)
	return nil
}

func (f *fakeAudit) outcomes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.rows))
	for i, r := range f.rows {
		out[i] = r.Outcome
	}
	return out
}

type testHarness struct {
	dispatcher *Dispatcher
	registry   *registry.Registry
	invoker    *fakeInvoker
	audit      *fakeAudit
	slo        *slo.Store
	mr         *miniredis.Miniredis
}

func newHarness(t *testing.T, table *policy.Table) *testHarness {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cache := idempotency.NewCache(client, time.Hour, 10000)
	evaluator := policy.NewEvaluator(&policy.StaticSource{Table: table}, 100*time.Millisecond)
	reg := registry.New(60*time.Second, 120*time.Second)
	sloStore := slo.NewStore()
	rt := router.New(reg, sloStore)
	invoker := &fakeInvoker{result: json.RawMessage(`{"pages": 3}`)}
	audit := &fakeAudit{}

	return &testHarness{
		dispatcher: New(cache, evaluator, rt, invoker, sloStore, metrics.NopSink{}, audit),
		registry:   reg,
		invoker:    invoker,
		audit:      audit,
		slo:        sloStore,
		mr:         mr,
	}
}

func allowTable(identity string, capabilities ...string) *policy.Table {
	return &policy.Table{
		Identities: map[string]policy.IdentityPolicy{
			identity: {Capabilities: capabilities},
		},
	}
}

func pdfCaps() []model.CapabilityDescriptor {
	return []model.CapabilityDescriptor{{Verb: "convert", Name: "document_to_pdf", Version: "1.0"}}
}

func TestHandleEndToEndWithIdempotentReplay(t *testing.T) {
	h := newHarness(t, allowTable("spiffe://x/agent/a", "convert:document_to_pdf"))
	h.registry.Register("w1", "http://w1:9000", pdfCaps())

	req := &Request{
		Identity:       "spiffe://x/agent/a",
		Verb:           "convert",
		Capability:     "document_to_pdf",
		IdempotencyKey: "job-42",
		Payload:        json.RawMessage(`{"doc":"x"}`),
	}

	// First call reaches the worker and caches the result.
	resp, err := h.dispatcher.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "w1", resp.WorkerID)
	assert.False(t, resp.IdempotentReplay)
	assert.JSONEq(t, `{"pages": 3}`, string(resp.Result))
	assert.Equal(t, 1, h.invoker.callCount())

	// Second call with the same key replays without touching the worker.
	resp, err = h.dispatcher.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.IdempotentReplay)
	assert.Equal(t, "w1", resp.WorkerID)
	assert.JSONEq(t, `{"pages": 3}`, string(resp.Result))
	assert.Equal(t, 1, h.invoker.callCount(), "replay must not re-invoke the worker")

	assert.Equal(t, []string{mysql.OutcomeSuccess, mysql.OutcomeReplay}, h.audit.outcomes())
}

func TestHandleDeniesUnauthorizedIdentity(t *testing.T) {
	h := newHarness(t, allowTable("spiffe://x/worker/a", "stream:text_events"))
	h.registry.Register("w1", "http://w1:9000", pdfCaps())

	_, err := h.dispatcher.Handle(context.Background(), &Request{
		Identity:   "spiffe://x/worker/a",
		Verb:       "convert",
		Capability: "document_to_pdf",
	})
	require.Error(t, err)
	assert.Equal(t, cperr.KindCapabilityAccessDenied, cperr.KindOf(err))
	assert.Contains(t, err.Error(), "not authorized")
	assert.Zero(t, h.invoker.callCount())
	assert.Equal(t, []string{mysql.OutcomeDenied}, h.audit.outcomes())
}

func TestHandlePolicyEngineUnavailableIsDistinguishedDeny(t *testing.T) {
	h := newHarness(t, nil) // StaticSource with nil table errors out
	h.registry.Register("w1", "http://w1:9000", pdfCaps())

	_, err := h.dispatcher.Handle(context.Background(), &Request{
		Identity:   "spiffe://x/agent/a",
		Verb:       "convert",
		Capability: "document_to_pdf",
	})
	require.Error(t, err)
	assert.Equal(t, cperr.KindPolicyEngineUnavailable, cperr.KindOf(err))
	assert.Zero(t, h.invoker.callCount())
}

func TestHandleNoWorkerAvailable(t *testing.T) {
	h := newHarness(t, allowTable("spiffe://x/agent/a", "convert:document_to_pdf"))

	_, err := h.dispatcher.Handle(context.Background(), &Request{
		Identity:   "spiffe://x/agent/a",
		Verb:       "convert",
		Capability: "document_to_pdf",
	})
	require.Error(t, err)
	assert.Equal(t, cperr.KindNoWorkerAvailable, cperr.KindOf(err))
}

func TestHandleWorkerFailureReleasesReservation(t *testing.T) {
	h := newHarness(t, allowTable("spiffe://x/agent/a", "convert:document_to_pdf"))
	h.registry.Register("w1", "http://w1:9000", pdfCaps())
	h.invoker.err = fmt.Errorf("connection reset")

	req := &Request{
		Identity:       "spiffe://x/agent/a",
		Verb:           "convert",
		Capability:     "document_to_pdf",
		IdempotencyKey: "job-42",
	}

	_, err := h.dispatcher.Handle(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, cperr.KindWorkerInvocationFailed, cperr.KindOf(err))

	// Failure is not cached; a retry executes the worker again.
	h.invoker.err = nil
	resp, err := h.dispatcher.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.IdempotentReplay)
	assert.Equal(t, 2, h.invoker.callCount())
}

func TestHandleConcurrentDuplicateExecutesOnce(t *testing.T) {
	h := newHarness(t, allowTable("spiffe://x/agent/a", "convert:document_to_pdf"))
	h.registry.Register("w1", "http://w1:9000", pdfCaps())

	gate := make(chan struct{})
	h.invoker.blockOn = gate

	req := &Request{
		Identity:       "spiffe://x/agent/a",
		Verb:           "convert",
		Capability:     "document_to_pdf",
		IdempotencyKey: "job-42",
	}

	firstDone := make(chan error, 1)
	go func() {
		_, err := h.dispatcher.Handle(context.Background(), req)
		firstDone <- err
	}()

	// Wait until the first request is inside the worker call.
	require.Eventually(t, func() bool { return h.invoker.callCount() == 1 }, time.Second, time.Millisecond)

	// The concurrent duplicate is told the request is in flight instead of
	// re-executing the side effect.
	_, err := h.dispatcher.Handle(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, cperr.KindRequestInFlight, cperr.KindOf(err))
	assert.Equal(t, 1, h.invoker.callCount())

	close(gate)
	require.NoError(t, <-firstDone)

	// Once the first completes, the same key replays.
	resp, err := h.dispatcher.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.IdempotentReplay)
	assert.Equal(t, 1, h.invoker.callCount())
}

func TestHandleCancelledRequestNeverCaches(t *testing.T) {
	h := newHarness(t, allowTable("spiffe://x/agent/a", "convert:document_to_pdf"))
	h.registry.Register("w1", "http://w1:9000", pdfCaps())

	gate := make(chan struct{})
	defer close(gate)
	h.invoker.blockOn = gate

	req := &Request{
		Identity:       "spiffe://x/agent/a",
		Verb:           "convert",
		Capability:     "document_to_pdf",
		IdempotencyKey: "job-42",
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.dispatcher.Handle(ctx, req)
		done <- err
	}()

	require.Eventually(t, func() bool { return h.invoker.callCount() == 1 }, time.Second, time.Millisecond)
	cancel()
	require.Error(t, <-done)

	// The reservation was released and nothing was cached: a retry runs
	// fresh instead of replaying a half-written entry.
	resp, err := h.dispatcher.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.IdempotentReplay)
	assert.Equal(t, 2, h.invoker.callCount())
}

func TestHandleRecordsSLOObservations(t *testing.T) {
	h := newHarness(t, allowTable("spiffe://x/agent/a", "convert:document_to_pdf"))
	h.registry.Register("w1", "http://w1:9000", pdfCaps())

	_, err := h.dispatcher.Handle(context.Background(), &Request{
		Identity:   "spiffe://x/agent/a",
		Verb:       "convert",
		Capability: "document_to_pdf",
	})
	require.NoError(t, err)

	_, ok := h.slo.ObservedP95("convert:document_to_pdf")
	assert.True(t, ok, "successful invocations must feed the SLO window")
}

func TestHandleWithoutIdempotencyKeySkipsCache(t *testing.T) {
	h := newHarness(t, allowTable("spiffe://x/agent/a", "convert:document_to_pdf"))
	h.registry.Register("w1", "http://w1:9000", pdfCaps())

	req := &Request{
		Identity:   "spiffe://x/agent/a",
		Verb:       "convert",
		Capability: "document_to_pdf",
	}

	for i := 0; i < 2; i++ {
		resp, err := h.dispatcher.Handle(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, resp.IdempotentReplay)
	}
	assert.Equal(t, 2, h.invoker.callCount())
}

package slo

import (
	"context"
	"testing"
	"time"

	"capway/pkg/notification"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	enabled bool
	sent    []notification.SLOViolation
}

func (f *fakeNotifier) Enabled() bool { return f.enabled }

func (f *fakeNotifier) SendSLOViolation(ctx context.Context, v notification.SLOViolation) error {
	f.sent = append(f.sent, v)
	return nil
}

func TestAlertJobEdgeTriggered(t *testing.T) {
	store := NewStore()
	store.definitions["translate:es-en"] = &Definition{
		CapabilityKey:      "translate:es-en",
		P95Ms:              100,
		AvailabilityTarget: 0.99,
	}
	for i := 0; i < 50; i++ {
		store.Observe("translate:es-en", 200*time.Millisecond, true)
	}
	require.True(t, store.IsOverBudget("translate:es-en"))

	notifier := &fakeNotifier{enabled: true}
	job := NewAlertJob(store, notifier, time.Minute)

	require.NoError(t, job.Run(context.Background()))
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "translate:es-en", notifier.sent[0].CapabilityKey)
	assert.Equal(t, float64(100), notifier.sent[0].TargetP95Ms)
	assert.Greater(t, notifier.sent[0].ObservedP95Ms, float64(100))

	// Still over budget: no second alert for the same excursion.
	require.NoError(t, job.Run(context.Background()))
	assert.Len(t, notifier.sent, 1)
}

func TestAlertJobSkipsHealthyCapabilities(t *testing.T) {
	store := NewStore()
	store.definitions["summarize:doc"] = &Definition{
		CapabilityKey:      "summarize:doc",
		P95Ms:              100,
		AvailabilityTarget: 0.99,
	}
	for i := 0; i < 50; i++ {
		store.Observe("summarize:doc", 20*time.Millisecond, true)
	}

	notifier := &fakeNotifier{enabled: true}
	job := NewAlertJob(store, notifier, time.Minute)

	require.NoError(t, job.Run(context.Background()))
	assert.Empty(t, notifier.sent)
}

func TestAlertJobDisabledNotifier(t *testing.T) {
	store := NewStore()
	store.definitions["translate:es-en"] = &Definition{
		CapabilityKey:      "translate:es-en",
		P95Ms:              100,
		AvailabilityTarget: 0.99,
	}
	for i := 0; i < 50; i++ {
		store.Observe("translate:es-en", 200*time.Millisecond, true)
	}

	notifier := &fakeNotifier{enabled: false}
	job := NewAlertJob(store, notifier, time.Minute)
	require.NoError(t, job.Run(context.Background()))
	assert.Empty(t, notifier.sent)
}

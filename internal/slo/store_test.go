package slo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

const validDefinition = `
capability_key: convert:document_to_pdf
p50_ms: 50
p95_ms: 100
p99_ms: 250
availability_target: 0.999
error_budget_monthly_pct: 0.1
reject_on_violation: true
grace_period_days: 7
`

func TestLoadSkipsMalformedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pdf.yaml", validDefinition)
	writeFile(t, dir, "broken.yaml", "p95_ms: [not a number\n")
	writeFile(t, dir, "negative.yaml", "capability_key: a:b\np95_ms: -5\navailability_target: 0.9\n")
	writeFile(t, dir, "notes.txt", "ignored")

	store := NewStore()
	require.NoError(t, store.Load(dir))

	require.NotNil(t, store.Get("convert:document_to_pdf"))
	require.Nil(t, store.Get("a:b"))
}

func TestLoadFailsWhenAllDefinitionsMalformed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", "p95_ms: [oops\n")

	store := NewStore()
	require.Error(t, store.Load(dir))
}

func TestLoadEmptyDirectorySucceeds(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Load(t.TempDir()))
}

func TestIsOverBudget(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pdf.yaml", validDefinition)

	store := NewStore()
	require.NoError(t, store.Load(dir))

	// No samples yet: not over budget.
	require.False(t, store.IsOverBudget("convert:document_to_pdf"))

	for i := 0; i < 100; i++ {
		store.Observe("convert:document_to_pdf", 150*time.Millisecond, true)
	}
	require.True(t, store.IsOverBudget("convert:document_to_pdf"))

	// A capability with no definition is never over budget.
	for i := 0; i < 100; i++ {
		store.Observe("stream:text_events", 10*time.Second, true)
	}
	require.False(t, store.IsOverBudget("stream:text_events"))
}

func TestObservedP95Rolls(t *testing.T) {
	store := NewStore()

	// Fill the window with slow samples, then push it out with fast ones.
	for i := 0; i < windowSize; i++ {
		store.Observe("a:b", 200*time.Millisecond, true)
	}
	p95, ok := store.ObservedP95("a:b")
	require.True(t, ok)
	require.InDelta(t, 200, p95, 1)

	for i := 0; i < windowSize; i++ {
		store.Observe("a:b", 20*time.Millisecond, true)
	}
	p95, ok = store.ObservedP95("a:b")
	require.True(t, ok)
	require.InDelta(t, 20, p95, 1)
}

func TestStatusSnapshot(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pdf.yaml", validDefinition)

	store := NewStore()
	require.NoError(t, store.Load(dir))

	store.Observe("convert:document_to_pdf", 80*time.Millisecond, true)
	store.Observe("convert:document_to_pdf", 90*time.Millisecond, false)

	status := store.Status()
	require.Len(t, status, 1)
	require.Equal(t, "convert:document_to_pdf", status[0].CapabilityKey)
	require.Equal(t, float64(100), status[0].TargetP95Ms)
	require.Equal(t, 2, status[0].SampleCount)
	require.InDelta(t, 0.5, status[0].SuccessRate, 0.001)
	require.False(t, status[0].OverBudget)
}

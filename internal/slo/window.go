package slo

import (
	"sort"
	"sync"
)

// windowSize bounds each capability's rolling observation window. 512 samples
// is enough to make a p95 stable without unbounded memory per capability.
const windowSize = 512

// window is a fixed-size ring of latency samples with success accounting.
// Each window has its own lock so observation writes for one capability
// never contend with another's.
type window struct {
	mu        sync.Mutex
	samples   []float64
	next      int
	filled    bool
	successes int
	total     int
}

func newWindow(size int) *window {
	return &window{samples: make([]float64, size)}
}

func (w *window) observe(latencyMs float64, success bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples[w.next] = latencyMs
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.filled = true
	}
	w.total++
	if success {
		w.successes++
	}
}

// p95 computes the 95th percentile over the current window contents.
func (w *window) p95() (float64, bool) {
	w.mu.Lock()
	n := w.next
	if w.filled {
		n = len(w.samples)
	}
	if n == 0 {
		w.mu.Unlock()
		return 0, false
	}
	sorted := make([]float64, n)
	copy(sorted, w.samples[:n])
	w.mu.Unlock()

	sort.Float64s(sorted)
	idx := int(float64(n) * 0.95)
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx], true
}

func (w *window) stats() (count int, successRate float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	count = w.next
	if w.filled {
		count = len(w.samples)
	}
	if w.total == 0 {
		return count, 0
	}
	return count, float64(w.successes) / float64(w.total)
}

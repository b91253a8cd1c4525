package domain

import (
	"math"
	"sync"
)

// GasHistoryCapacity bounds the number of retained gas samples.
const GasHistoryCapacity = 1000

// GasHistory is a bounded ring of gas price samples in gwei.
type GasHistory struct {
	mu      sync.RWMutex
	samples []float64
	next    int
	full    bool
}

// NewGasHistory creates a history holding at most capacity samples.
func NewGasHistory(capacity int) *GasHistory {
	if capacity <= 0 {
		capacity = GasHistoryCapacity
	}
	return &GasHistory{samples: make([]float64, capacity)}
}

// Add records a sample, evicting the oldest when full.
func (h *GasHistory) Add(gwei float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.samples[h.next] = gwei
	h.next = (h.next + 1) % len(h.samples)
	if h.next == 0 {
		h.full = true
	}
}

// Len returns the number of retained samples.
func (h *GasHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.full {
		return len(h.samples)
	}
	return h.next
}

// Recent returns up to n of the newest samples, oldest first.
func (h *GasHistory) Recent(n int) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	size := h.next
	if h.full {
		size = len(h.samples)
	}
	n = min(n, size)

	out := make([]float64, n)
	for i := range n {
		idx := (h.next - n + i + len(h.samples)) % len(h.samples)
		out[i] = h.samples[idx]
	}
	return out
}

// Variance returns the population variance of samples (gwei²).
func Variance(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	mean := Mean(samples)
	var sum float64
	for _, s := range samples {
		d := s - mean
		sum += d * d
	}
	return sum / float64(len(samples))
}

// Mean returns the arithmetic mean of samples.
func Mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

// VolatilityPercent is the coefficient of variation of samples, in percent.
func VolatilityPercent(samples []float64) float64 {
	mean := Mean(samples)
	if mean == 0 {
		return 0
	}
	return math.Sqrt(Variance(samples)) / mean * 100
}

package archive

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/fd1az/arbitrage-pipeline/business/submission/app"
	"github.com/fd1az/arbitrage-pipeline/business/submission/domain"
)

var _ app.Archive = (*Memory)(nil)

// Memory keeps the most recent records in a bounded ring.
type Memory struct {
	mu    sync.RWMutex
	ring  []domain.Record
	next  int
	full  bool
	index map[uuid.UUID]int
}

// NewMemory creates an in-memory archive holding up to capacity records.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &Memory{
		ring:  make([]domain.Record, capacity),
		index: make(map[uuid.UUID]int, capacity),
	}
}

// Save stores r, replacing an earlier version of the same record.
func (m *Memory) Save(_ context.Context, r domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i, ok := m.index[r.BundleID]; ok {
		m.ring[i] = r
		return nil
	}
	if m.full {
		delete(m.index, m.ring[m.next].BundleID)
	}
	m.ring[m.next] = r
	m.index[r.BundleID] = m.next
	m.next = (m.next + 1) % len(m.ring)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

// Get returns the record for bundleID.
func (m *Memory) Get(_ context.Context, bundleID uuid.UUID) (domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.index[bundleID]
	if !ok {
		return domain.Record{}, notFound(bundleID.String())
	}
	return m.ring[i], nil
}

// Recent returns up to limit records, newest first.
func (m *Memory) Recent(_ context.Context, limit int) ([]domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.index)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.Record, 0, n)
	for k := 1; k <= n; k++ {
		i := (m.next - k + len(m.ring)) % len(m.ring)
		out = append(out, m.ring[i])
	}
	return out, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// Package ledger records which touchpoint occurrences have been dispatched.
//
// Check-then-act is not atomic across a batch: callers use HasFired as a
// fast-path skip and call MarkFired right after the dispatch attempt. A crash
// between the two can leave an occurrence dispatched but unmarked, so a rerun
// may send it again. That window is accepted; no distributed lock is taken.
package ledger

import (
	"context"
	"sync"
	"time"
)

// Ledger is the idempotency ledger for touchpoint occurrences.
type Ledger interface {
	HasFired(ctx context.Context, entityID, occurrenceKey string) (bool, error)
	MarkFired(ctx context.Context, entityID, occurrenceKey string) error
}

// Memory is an in-process Ledger.
type Memory struct {
	mu    sync.RWMutex
	fired map[string]time.Time
	now   func() time.Time
}

// NewMemory returns an empty in-process ledger.
func NewMemory() *Memory {
	return &Memory{fired: make(map[string]time.Time), now: time.Now}
}

func (m *Memory) HasFired(_ context.Context, entityID, occurrenceKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.fired[entityID+"|"+occurrenceKey]
	return ok, nil
}

// MarkFired keeps the first mark time; marking twice is a no-op.
func (m *Memory) MarkFired(_ context.Context, entityID, occurrenceKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := entityID + "|" + occurrenceKey
	if _, ok := m.fired[k]; !ok {
		m.fired[k] = m.now()
	}
	return nil
}

// Len returns the number of recorded occurrences.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.fired)
}

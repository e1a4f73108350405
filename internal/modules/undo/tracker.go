// README: In-memory undo window tracker; records are short-lived and lost on restart by design.
package undo

import (
	"sync"
	"time"
)

type record struct {
	executorID int64
	expiresAt  time.Time
}

// Tracker holds at most one undo record per order. The order row stays
// authoritative: losing a record only forfeits the undo convenience, never
// correctness.
type Tracker struct {
	mu   sync.Mutex
	recs map[int64]record
	now  func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{recs: make(map[int64]record), now: time.Now}
}

// Open binds the undo window for orderID to the executor. A new window
// replaces any previous one for the same order.
func (t *Tracker) Open(orderID, executorID int64, ttl time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recs[orderID] = record{executorID: executorID, expiresAt: t.now().Add(ttl)}
}

// Consume atomically reads and deletes the record. Expired records are
// dropped on read and reported as absent.
func (t *Tracker) Consume(orderID int64) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.recs[orderID]
	if !ok {
		return 0, false
	}
	delete(t.recs, orderID)
	if t.now().After(rec.expiresAt) {
		return 0, false
	}
	return rec.executorID, true
}

// Peek reads without consuming, for pre-validation before the reverse store
// transition. Expired records are dropped.
func (t *Tracker) Peek(orderID int64) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.recs[orderID]
	if !ok {
		return 0, false
	}
	if t.now().After(rec.expiresAt) {
		delete(t.recs, orderID)
		return 0, false
	}
	return rec.executorID, true
}

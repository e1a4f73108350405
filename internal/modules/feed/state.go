// README: Process-local announcement state and dismissal set; caches only, the order row stays authoritative.
package feed

import (
	"sync"

	"dispatch/internal/modules/order"
)

// messageState remembers where an announcement lives and what status it
// currently renders, to avoid redundant external edits. Rebuildable from the
// order row; an empty cache is always safe.
type messageState struct {
	chatID    int64
	messageID int
	baseText  string
	rendered  order.Status
}

type stateCache struct {
	mu sync.Mutex
	m  map[int64]messageState
}

func newStateCache() *stateCache {
	return &stateCache{m: make(map[int64]messageState)}
}

func (c *stateCache) get(orderID int64) (messageState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.m[orderID]
	return st, ok
}

func (c *stateCache) put(orderID int64, st messageState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[orderID] = st
}

func (c *stateCache) drop(orderID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, orderID)
}

// dismissalSet records which actors already hid an order, so repeat taps are
// silent. Cleared whenever the order's status changes.
type dismissalSet struct {
	mu sync.Mutex
	m  map[int64]map[int64]struct{}
}

func newDismissalSet() *dismissalSet {
	return &dismissalSet{m: make(map[int64]map[int64]struct{})}
}

// add returns false when the actor already dismissed the order.
func (d *dismissalSet) add(orderID, actorID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.m[orderID]
	if !ok {
		set = make(map[int64]struct{})
		d.m[orderID] = set
	}
	if _, dup := set[actorID]; dup {
		return false
	}
	set[actorID] = struct{}{}
	return true
}

func (d *dismissalSet) clear(orderID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.m, orderID)
}

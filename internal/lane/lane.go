// Package lane implements the per-priority record queues between the
// pollers and the link senders. A lane is an unbounded FIFO: pushes
// never block and never drop, ordering holds within a lane only.
package lane

import (
	"sync"

	"github.com/scada-tools/datadiode/internal/wire"
)

type Lane struct {
	mu   sync.Mutex
	recs []wire.Record
}

func (l *Lane) Push(r wire.Record) {
	l.mu.Lock()
	l.recs = append(l.recs, r)
	l.mu.Unlock()
}

// TryPop removes and returns the oldest record, if any.
func (l *Lane) TryPop() (wire.Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.recs) == 0 {
		return wire.Record{}, false
	}
	r := l.recs[0]
	l.recs = l.recs[1:]
	return r, true
}

func (l *Lane) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.recs)
}

// Set holds the three priority lanes. Priority 1 is the most urgent.
type Set [3]Lane

// Lane maps priority 1..3 to its queue. Out of range values fall
// through to the lowest priority lane.
func (s *Set) Lane(priority int) *Lane {
	if priority < 1 || priority > 3 {
		priority = 3
	}
	return &s[priority-1]
}

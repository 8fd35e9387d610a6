package bus

import (
	"time"

	"github.com/nextlevelbuilder/agentbus/internal/store"
	"github.com/nextlevelbuilder/agentbus/pkg/protocol"
)

// queueEntry is one message waiting for dispatch.
type queueEntry struct {
	msg        *store.MessageRecord
	enqueuedAt time.Time
	level      protocol.Priority // effective level; aging can promote it
}

// priorityQueue is a multi-level FIFO: strict priority order across levels,
// arrival order within a level. Entries that wait longer than ageThreshold
// are promoted one level so sustained high-priority load cannot starve the
// lower levels. Not safe for concurrent use; the Bus serializes access.
type priorityQueue struct {
	levels       [protocol.NumPriorities][]*queueEntry
	size         int
	ageThreshold time.Duration
}

func newPriorityQueue(ageThreshold time.Duration) *priorityQueue {
	return &priorityQueue{ageThreshold: ageThreshold}
}

func (q *priorityQueue) len() int { return q.size }

func (q *priorityQueue) push(m *store.MessageRecord, now time.Time) {
	e := &queueEntry{msg: m, enqueuedAt: now, level: m.Priority}
	q.levels[m.Priority] = append(q.levels[m.Priority], e)
	q.size++
}

// promoteAged moves entries that have waited past the threshold up one level.
// The promotion clock restarts so an entry climbs one level per threshold.
func (q *priorityQueue) promoteAged(now time.Time) {
	if q.ageThreshold <= 0 {
		return
	}
	for lvl := 1; lvl < protocol.NumPriorities; lvl++ {
		for len(q.levels[lvl]) > 0 && now.Sub(q.levels[lvl][0].enqueuedAt) > q.ageThreshold {
			e := q.levels[lvl][0]
			q.levels[lvl] = q.levels[lvl][1:]
			e.level = protocol.Priority(lvl - 1)
			e.enqueuedAt = now
			q.levels[lvl-1] = append(q.levels[lvl-1], e)
		}
	}
}

// pop returns the oldest entry at the highest non-empty level.
func (q *priorityQueue) pop(now time.Time) *store.MessageRecord {
	q.promoteAged(now)
	for lvl := 0; lvl < protocol.NumPriorities; lvl++ {
		if len(q.levels[lvl]) == 0 {
			continue
		}
		e := q.levels[lvl][0]
		q.levels[lvl] = q.levels[lvl][1:]
		q.size--
		return e.msg
	}
	return nil
}

// removeExpired drops every queued entry whose message id is in ids.
func (q *priorityQueue) removeExpired(ids map[string]bool) {
	if len(ids) == 0 {
		return
	}
	for lvl := range q.levels {
		kept := q.levels[lvl][:0]
		for _, e := range q.levels[lvl] {
			if ids[e.msg.ID] {
				q.size--
				continue
			}
			kept = append(kept, e)
		}
		q.levels[lvl] = kept
	}
}

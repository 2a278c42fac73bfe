// Package queue implements the stable, min-priority step queue: integer
// priorities, opaque payloads (step names or deferred callables), and
// insert/pop/delete/update with a payload-keyed index so delete and update
// don't require a linear scan in the common case.
package queue

import "sort"

// Payload is anything comparable the queue can hold: a step filename
// string, or a deferred callable wrapped to be comparable (see Callable).
type Payload any

// Callable is a deferred in-process action queued via queue_command or
// queue_code. ID makes two distinct callables comparable even if their
// underlying Fn values aren't (func values are not comparable in Go).
type Callable struct {
	ID string
	Fn func() error
}

type entry struct {
	payload  Payload
	priority int
	seq      uint64 // insertion order, for FIFO stability within a priority
}

// Queue is a min-priority queue: Pop always returns the lowest-priority
// entry, ties broken by insertion order.
type Queue struct {
	entries []entry
	index   map[Payload]int // payload -> priority, for Delete/Update
	nextSeq uint64
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{index: make(map[Payload]int)}
}

func payloadKey(p Payload) Payload {
	if c, ok := p.(Callable); ok {
		return c.ID
	}
	return p
}

// Insert adds payload at priority, keeping entries sorted by priority with
// stability (payload is placed after existing entries of equal priority).
// lower/upper optionally bound the binary search to a known sub-range (an
// optimization Update uses); both may be left at their zero value (0, 0)
// to search the whole queue, or lower may be negative and upper may exceed
// len(entries) when the caller doesn't want to bound one side.
func (q *Queue) Insert(payload Payload, priority int, lower, upper int) {
	if lower < 0 {
		lower = 0
	}
	if upper <= 0 || upper > len(q.entries) {
		upper = len(q.entries)
	}

	// Find the insertion point: first index in [lower,upper) whose
	// priority is strictly greater than the new entry's, so ties land
	// after existing equal-priority entries (FIFO).
	pos := lower + sort.Search(upper-lower, func(i int) bool {
		return q.entries[lower+i].priority > priority
	})

	q.entries = append(q.entries, entry{})
	copy(q.entries[pos+1:], q.entries[pos:])
	q.entries[pos] = entry{payload: payload, priority: priority, seq: q.nextSeq}
	q.nextSeq++

	q.index[payloadKey(payload)] = priority
}

// Pop removes and returns the minimum-priority entry. Calling Pop on an
// empty queue is a programming error; ok reports whether there was
// anything to pop.
func (q *Queue) Pop() (Payload, bool) {
	if len(q.entries) == 0 {
		return nil, false
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	delete(q.index, payloadKey(e.payload))
	return e.payload, true
}

// Len reports the number of entries currently queued.
func (q *Queue) Len() int { return len(q.entries) }

// Delete removes the first queue entry whose payload equals the given one,
// using the payload->priority index to avoid a full scan when possible.
// Returns the priority it was removed from, or ok=false if not present.
func (q *Queue) Delete(payload Payload) (priority int, ok bool) {
	key := payloadKey(payload)
	priority, ok = q.index[key]
	if !ok {
		return 0, false
	}
	for i, e := range q.entries {
		if payloadKey(e.payload) == key {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			delete(q.index, key)
			return priority, true
		}
	}
	return 0, false
}

// Update reprioritizes payload to newPriority: a Delete followed by an
// Insert.
func (q *Queue) Update(payload Payload, newPriority int) bool {
	if _, ok := q.Delete(payload); !ok {
		return false
	}
	q.Insert(payload, newPriority, 0, 0)
	return true
}

// Peek returns the minimum-priority entry without removing it.
func (q *Queue) Peek() (Payload, bool) {
	if len(q.entries) == 0 {
		return nil, false
	}
	return q.entries[0].payload, true
}

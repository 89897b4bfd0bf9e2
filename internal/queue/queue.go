// Package queue orders pending thumbnail fetches by viewport distance and
// decides when the next one may start.
package queue

import (
	"container/heap"
	"time"
)

// Entry is a pending fetch
type Entry struct {
	ItemID     string
	Priority   float64 // distance from the viewport's leading edge, lower first
	Seq        uint64  // original enqueue order, ties are FIFO
	EnqueuedAt time.Time

	index int
}

// Queue is a priority queue of items keyed by id. It is not safe for
// concurrent use.
type Queue struct {
	entries entryHeap
	byID    map[string]*Entry
	seq     uint64
}

// New creates an empty queue
func New() *Queue {
	return &Queue{byID: make(map[string]*Entry)}
}

// Push adds an item or updates the priority of one already queued, keeping
// its original sequence number
func (q *Queue) Push(id string, priority float64, now time.Time) {
	if e, ok := q.byID[id]; ok {
		e.Priority = priority
		heap.Fix(&q.entries, e.index)
		return
	}
	q.seq++
	e := &Entry{ItemID: id, Priority: priority, Seq: q.seq, EnqueuedAt: now}
	q.byID[id] = e
	heap.Push(&q.entries, e)
}

// Pop removes and returns the highest priority entry
func (q *Queue) Pop() (Entry, bool) {
	if len(q.entries) == 0 {
		return Entry{}, false
	}
	e := heap.Pop(&q.entries).(*Entry)
	delete(q.byID, e.ItemID)
	return *e, true
}

// Peek returns the highest priority entry without removing it
func (q *Queue) Peek() (Entry, bool) {
	if len(q.entries) == 0 {
		return Entry{}, false
	}
	return *q.entries[0], true
}

// Remove drops an item, reporting whether it was queued
func (q *Queue) Remove(id string) bool {
	e, ok := q.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&q.entries, e.index)
	delete(q.byID, id)
	return true
}

func (q *Queue) Contains(id string) bool {
	_, ok := q.byID[id]
	return ok
}

func (q *Queue) Len() int {
	return len(q.entries)
}

// Clear drops every entry
func (q *Queue) Clear() {
	q.entries = nil
	q.byID = make(map[string]*Entry)
}

type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].Priority == h[j].Priority {
		return h[i].Seq < h[j].Seq
	}
	return h[i].Priority < h[j].Priority
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*Entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ST2Projects/media-grid/internal/clock"
	"github.com/ST2Projects/media-grid/pkg/models"
	log "github.com/sirupsen/logrus"
)

// Record is the retry bookkeeping for one item
type Record struct {
	ItemID      string
	State       models.ThumbnailState
	Processing  int // processing responses seen
	NotFound    int
	Network     int
	RateLimited int
	Retries     int // retries scheduled since the last reset
	Epoch       uint64
	LastErr     error

	cancel context.CancelFunc
	timer  clock.Timer
}

// InFlight reports whether a request is outstanding
func (r *Record) InFlight() bool {
	return r.cancel != nil
}

// Waiting reports whether a retry timer is pending
func (r *Record) Waiting() bool {
	return r.timer != nil
}

// Decision tells the caller what to do after a response
type Decision struct {
	State models.ThumbnailState

	// Retry is set when a retry timer should be scheduled after Delay
	Retry bool
	Delay time.Duration

	// Fallback is set on failure: render the response body if decodable,
	// otherwise the built-in fallback asset
	Fallback bool

	// DispatchError is set when the node must receive a thumbnail-error event
	DispatchError bool

	Reason string
}

// Machine owns the fetch records of one grid. It is not safe for concurrent
// use; the grid serializes every call under its own lock.
type Machine struct {
	policy  Policy
	clock   clock.Clock
	records map[string]*Record
	epoch   uint64

	retriesScheduled int
}

// NewMachine creates a machine with the given policy
func NewMachine(policy Policy, clk clock.Clock) *Machine {
	if clk == nil {
		clk = clock.Real()
	}
	return &Machine{
		policy:  policy,
		clock:   clk,
		records: make(map[string]*Record),
	}
}

// Policy returns the machine's retry policy
func (m *Machine) Policy() Policy {
	return m.policy
}

// Record returns the record for an item, creating an idle one if needed
func (m *Machine) Record(id string) *Record {
	rec, ok := m.records[id]
	if !ok {
		m.epoch++
		rec = &Record{ItemID: id, State: models.StateIdle, Epoch: m.epoch}
		m.records[id] = rec
	}
	return rec
}

// Lookup returns the record for an item without creating one
func (m *Machine) Lookup(id string) (*Record, bool) {
	rec, ok := m.records[id]
	return rec, ok
}

// State returns an item's state, idle when no record exists
func (m *Machine) State(id string) models.ThumbnailState {
	if rec, ok := m.records[id]; ok {
		return rec.State
	}
	return models.StateIdle
}

// Enqueueable reports whether a visibility event may queue the item: it is
// idle or already queued, and neither in flight nor waiting on a retry
func (m *Machine) Enqueueable(id string) bool {
	rec, ok := m.records[id]
	if !ok {
		return true
	}
	if rec.InFlight() || rec.Waiting() {
		return false
	}
	return rec.State == models.StateIdle || rec.State == models.StateQueued
}

// MarkQueued moves an idle item to queued
func (m *Machine) MarkQueued(id string) {
	rec := m.Record(id)
	if rec.State == models.StateIdle {
		rec.State = models.StateQueued
	}
}

// Unqueue returns a queued item to idle, used when its node leaves the
// pre-fetch zone before the request started
func (m *Machine) Unqueue(id string) {
	if rec, ok := m.records[id]; ok && rec.State == models.StateQueued {
		rec.State = models.StateIdle
	}
}

// Begin starts a request for the item. The returned context is derived from
// parent and cancelled by Reset, Cancel or Forget; the epoch identifies the
// request when it completes.
func (m *Machine) Begin(parent context.Context, id string) (context.Context, uint64) {
	rec := m.Record(id)
	m.stopTimer(rec)
	if rec.cancel != nil {
		rec.cancel()
	}

	ctx, cancel := context.WithCancel(parent)
	m.epoch++
	rec.Epoch = m.epoch
	rec.cancel = cancel
	if rec.State != models.StateProcessing && rec.State != models.StateRateLimited {
		rec.State = models.StateFetching
	}
	return ctx, rec.Epoch
}

// Current reports whether epoch is the item's outstanding request
func (m *Machine) Current(id string, epoch uint64) bool {
	rec, ok := m.records[id]
	return ok && rec.Epoch == epoch && rec.cancel != nil
}

// Resolve applies a response or transport error to the item's record and
// returns what the caller has to do next. Stale completions are reported
// with Reason "stale" and change nothing.
func (m *Machine) Resolve(id string, epoch uint64, resp Response, err error) Decision {
	if !m.Current(id, epoch) {
		return Decision{State: m.State(id), Reason: "stale"}
	}
	rec := m.records[id]
	rec.cancel()
	rec.cancel = nil

	if err != nil {
		return m.resolveNetwork(rec, err)
	}

	switch resp.Outcome {
	case OutcomeReady:
		rec.State = models.StateReady
		rec.LastErr = nil
		return Decision{State: rec.State, Reason: "ready"}

	case OutcomeProcessing:
		rec.Processing++
		delay, ok := m.policy.ProcessingDelay(rec.Processing)
		if !ok {
			rec.State = models.StateFailed
			rec.LastErr = fmt.Errorf("thumbnail still processing after %d retries", rec.Processing-1)
			return Decision{State: rec.State, Fallback: true, Reason: "processing budget exhausted"}
		}
		rec.State = models.StateProcessing
		return Decision{State: rec.State, Retry: true, Delay: delay, Reason: "processing"}

	case OutcomeFailed:
		rec.State = models.StateFailed
		rec.LastErr = errors.New("thumbnail generation failed")
		return Decision{State: rec.State, Fallback: true, Reason: "permanent failure"}

	case OutcomeRateLimited:
		rec.RateLimited++
		rec.State = models.StateRateLimited
		return Decision{State: rec.State, Retry: true, Delay: resp.RetryAfter + m.policy.jitter(), Reason: "rate limited"}

	case OutcomeNotFound:
		rec.NotFound++
		if rec.NotFound > m.policy.NotFoundLimit {
			rec.State = models.StateFailed
			rec.LastErr = errors.New("thumbnail not found")
			return Decision{State: rec.State, Fallback: true, Reason: "not found"}
		}
		rec.State = models.StateFetching
		return Decision{State: rec.State, Retry: true, Delay: time.Duration(rec.NotFound) * m.policy.NotFoundStep, Reason: "not found"}

	default:
		return m.resolveNetwork(rec, fmt.Errorf("unknown outcome %d", resp.Outcome))
	}
}

func (m *Machine) resolveNetwork(rec *Record, err error) Decision {
	rec.Network++
	rec.LastErr = err
	if rec.Network > m.policy.NetworkLimit {
		rec.State = models.StateFailed
		return Decision{State: rec.State, Fallback: true, DispatchError: true, Reason: "network error"}
	}
	rec.State = models.StateFetching
	return Decision{State: rec.State, Retry: true, Delay: time.Duration(rec.Network) * m.policy.NetworkStep, Reason: "network error"}
}

// Schedule arms the item's retry timer. fire receives the epoch the timer
// was armed under and must call ClaimRetry before acting.
func (m *Machine) Schedule(id string, delay time.Duration, fire func(id string, epoch uint64)) {
	rec, ok := m.records[id]
	if !ok {
		return
	}
	m.stopTimer(rec)
	epoch := rec.Epoch
	rec.Retries++
	m.retriesScheduled++
	rec.timer = m.clock.AfterFunc(delay, func() { fire(id, epoch) })
	log.Debugf("Retry %d for %s in %s (%s)", rec.Retries, id, delay, rec.State)
}

// ClaimRetry consumes a fired retry timer. It returns false when the timer
// was superseded by a reset, a new request or removal of the record.
func (m *Machine) ClaimRetry(id string, epoch uint64) bool {
	rec, ok := m.records[id]
	if !ok || rec.Epoch != epoch || rec.timer == nil {
		return false
	}
	rec.timer = nil
	return true
}

// Cancel aborts the item's request and retry timer, keeping its counters
func (m *Machine) Cancel(id string) {
	rec, ok := m.records[id]
	if !ok {
		return
	}
	m.stopTimer(rec)
	if rec.cancel != nil {
		rec.cancel()
		rec.cancel = nil
	}
	m.epoch++
	rec.Epoch = m.epoch
}

// Reset cancels outstanding work and returns the item to idle with cleared
// counters
func (m *Machine) Reset(id string) {
	rec, ok := m.records[id]
	if !ok {
		return
	}
	m.Cancel(id)
	rec.State = models.StateIdle
	rec.Processing = 0
	rec.NotFound = 0
	rec.Network = 0
	rec.RateLimited = 0
	rec.Retries = 0
	rec.LastErr = nil
}

// Forget cancels outstanding work and drops the record
func (m *Machine) Forget(id string) {
	m.Cancel(id)
	delete(m.records, id)
}

// CancelAll aborts every request and timer and drops all records
func (m *Machine) CancelAll() {
	for id := range m.records {
		m.Cancel(id)
	}
	m.records = make(map[string]*Record)
}

// PendingTimers returns the number of armed retry timers
func (m *Machine) PendingTimers() int {
	n := 0
	for _, rec := range m.records {
		if rec.timer != nil {
			n++
		}
	}
	return n
}

// InFlight returns the number of outstanding requests
func (m *Machine) InFlight() int {
	n := 0
	for _, rec := range m.records {
		if rec.cancel != nil {
			n++
		}
	}
	return n
}

// RetriesScheduled returns the total number of retries ever scheduled
func (m *Machine) RetriesScheduled() int {
	return m.retriesScheduled
}

// Counts returns the number of records per state
func (m *Machine) Counts() map[models.ThumbnailState]int {
	out := make(map[models.ThumbnailState]int)
	for _, rec := range m.records {
		out[rec.State]++
	}
	return out
}

func (m *Machine) stopTimer(rec *Record) {
	if rec.timer != nil {
		rec.timer.Stop()
		rec.timer = nil
	}
}

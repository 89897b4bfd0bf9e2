package layout

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/ST2Projects/media-grid/internal/clock"
)

type memoKey struct {
	width     float64
	columns   int
	signature uint64
}

type memoEntry struct {
	slots   []Slot
	heights []float64
	expires time.Time
}

// Memo keeps recent full layouts for a short time so flipping back to a
// width seen moments ago skips the pass. Entries expire lazily on read.
type Memo struct {
	mu      sync.Mutex
	clock   clock.Clock
	ttl     time.Duration
	entries map[memoKey]memoEntry
	hits    int
	misses  int
}

// NewMemo creates a memo whose entries live for ttl
func NewMemo(clk clock.Clock, ttl time.Duration) *Memo {
	if clk == nil {
		clk = clock.Real()
	}
	return &Memo{clock: clk, ttl: ttl, entries: make(map[memoKey]memoEntry)}
}

// Signature hashes the ordered inputs that influence a layout
func Signature(items []Input) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, in := range items {
		h.Write([]byte(in.ID))
		h.Write([]byte{0})
		for _, v := range []float64{in.Width, in.Height, in.Measured} {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			h.Write(buf[:])
		}
	}
	return h.Sum64()
}

// Get returns a memoized layout
func (m *Memo) Get(width float64, columns int, signature uint64) ([]Slot, []float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoKey{width: width, columns: columns, signature: signature}
	e, ok := m.entries[key]
	if ok && m.clock.Now().After(e.expires) {
		delete(m.entries, key)
		ok = false
	}
	if !ok {
		m.misses++
		return nil, nil, false
	}
	m.hits++
	return append([]Slot(nil), e.slots...), append([]float64(nil), e.heights...), true
}

// Put stores a layout and drops expired entries
func (m *Memo) Put(width float64, columns int, signature uint64, slots []Slot, heights []float64) {
	if m.ttl <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	for k, e := range m.entries {
		if now.After(e.expires) {
			delete(m.entries, k)
		}
	}
	m.entries[memoKey{width: width, columns: columns, signature: signature}] = memoEntry{
		slots:   append([]Slot(nil), slots...),
		heights: append([]float64(nil), heights...),
		expires: now.Add(m.ttl),
	}
}

func (m *Memo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Hits returns the hit and miss counters
func (m *Memo) Hits() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits, m.misses
}

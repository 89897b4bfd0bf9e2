// Package resources owns the decoded thumbnail buffers displayed by grid
// nodes. Every buffer belongs to exactly one owner node and is released when
// replaced, revoked, expired or flushed.
package resources

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/ST2Projects/media-grid/internal/clock"
	"github.com/ST2Projects/media-grid/internal/thumbnails"
	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
)

// ErrCorrupt is returned by Set when the bytes cannot be decoded
var ErrCorrupt = errors.New("corrupt thumbnail resource")

// Owner is a node that can display a resource
type Owner interface {
	ID() string
	Connected() bool
	Source() uint64
	SetSource(id uint64)
	ClearSource(expected uint64) bool
}

// Handle is a decoded image buffer with a unique identity
type Handle struct {
	ID        uint64
	Width     int
	Height    int
	Size      int
	CreatedAt time.Time

	mu      sync.Mutex
	img     image.Image
	revoked bool
}

// Image returns the decoded image, nil once revoked
func (h *Handle) Image() image.Image {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.img
}

func (h *Handle) Revoked() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.revoked
}

func (h *Handle) release() {
	h.mu.Lock()
	h.img = nil
	h.revoked = true
	h.mu.Unlock()
}

type entry struct {
	owner     Owner
	handle    *Handle
	createdAt time.Time
}

// Stats summarizes cache occupancy
type Stats struct {
	Entries int
	Bytes   int64
	Created uint64
	Revoked uint64
}

// Cache maps owners to their single active handle
type Cache struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]*entry
	nextID  uint64
	bytes   int64
	created uint64
	revoked uint64
}

// New creates an empty cache
func New(clk clock.Clock) *Cache {
	if clk == nil {
		clk = clock.Real()
	}
	return &Cache{
		clock:   clk,
		entries: make(map[string]*entry),
	}
}

// Set decodes data into a fresh handle for owner, revoking the owner's
// previous handle first. On decode failure the previous entry is kept.
func (c *Cache) Set(owner Owner, data []byte) (*Handle, error) {
	img, err := thumbnails.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.entries[owner.ID()]; ok {
		c.revokeLocked(prev)
	}

	c.nextID++
	now := c.clock.Now()
	bounds := img.Bounds()
	h := &Handle{
		ID:        c.nextID,
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		Size:      len(data),
		CreatedAt: now,
		img:       img,
	}
	c.entries[owner.ID()] = &entry{owner: owner, handle: h, createdAt: now}
	c.bytes += int64(len(data))
	c.created++
	owner.SetSource(h.ID)

	return h, nil
}

// Get returns the owner's active handle
func (c *Cache) Get(owner Owner) (*Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[owner.ID()]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

// Revoke releases the owner's handle. It is a no-op when the owner has none.
func (c *Cache) Revoke(owner Owner) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[owner.ID()]; ok {
		c.revokeLocked(e)
	}
}

// revokeLocked releases the handle and detaches it from the owner only if
// the owner still displays this exact handle
func (c *Cache) revokeLocked(e *entry) {
	delete(c.entries, e.owner.ID())
	e.owner.ClearSource(e.handle.ID)
	c.bytes -= int64(e.handle.Size)
	c.revoked++
	e.handle.release()
}

// SweepExpired revokes entries whose owner is disconnected or whose age
// exceeds maxAge, returning the affected owners. A non-positive maxAge only
// reclaims disconnected owners. Connected owners for which pinned returns
// true never expire by age; pinned may be nil.
func (c *Cache) SweepExpired(maxAge time.Duration, pinned func(Owner) bool) []Owner {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	var swept []Owner
	for _, e := range c.entries {
		if !e.owner.Connected() {
			swept = append(swept, e.owner)
			c.revokeLocked(e)
			continue
		}
		expired := maxAge > 0 && now.Sub(e.createdAt) > maxAge
		if expired && (pinned == nil || !pinned(e.owner)) {
			swept = append(swept, e.owner)
			c.revokeLocked(e)
		}
	}

	if len(swept) > 0 {
		log.Debugf("Swept %d thumbnail resources, %s still held", len(swept), humanize.Bytes(uint64(c.bytes)))
	}
	return swept
}

// Flush revokes every entry and returns how many were released
func (c *Cache) Flush() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	for _, e := range c.entries {
		c.revokeLocked(e)
	}
	return n
}

// Len returns the number of active entries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries: len(c.entries),
		Bytes:   c.bytes,
		Created: c.created,
		Revoked: c.revoked,
	}
}

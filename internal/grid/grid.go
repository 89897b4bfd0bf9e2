// Package grid mounts a progressive media grid onto a view container. It
// wires layout, windowing, visibility, the fetch queue, the retry state
// machine and the resource cache for one grid instance.
//
// All grid state is guarded by a single mutex. Fetches run in their own
// goroutines outside it; node events and visibility checks are delivered
// after it is released.
package grid

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ST2Projects/media-grid/internal/clock"
	"github.com/ST2Projects/media-grid/internal/config"
	"github.com/ST2Projects/media-grid/internal/fetch"
	"github.com/ST2Projects/media-grid/internal/layout"
	"github.com/ST2Projects/media-grid/internal/queue"
	"github.com/ST2Projects/media-grid/internal/resources"
	"github.com/ST2Projects/media-grid/internal/view"
	"github.com/ST2Projects/media-grid/internal/visibility"
	"github.com/ST2Projects/media-grid/internal/window"
	"github.com/ST2Projects/media-grid/pkg/models"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrMounted is returned by a second Mount on the same grid
	ErrMounted = errors.New("grid already mounted")
	// ErrTornDown is returned by calls on a grid after Teardown
	ErrTornDown = errors.New("grid torn down")
)

// Container and node attributes exposed to the styling layer
const (
	ModeAttr  = "data-grid-mode"
	StateAttr = "data-thumb-state"

	ModeDense    = "dense"
	ModeWindowed = "windowed"
)

// Options configure a grid
type Options struct {
	Config     *config.Config
	Clock      clock.Clock
	Source     fetch.Source
	Visibility visibility.Factory // nil uses the viewport provider
	Memo       *layout.Memo       // nil creates one per grid
}

// Grid is one mounted media grid
type Grid struct {
	mu     sync.Mutex
	id     string
	logger *log.Entry
	cfg    *config.Config
	clock  clock.Clock
	source fetch.Source

	container   *view.Container
	provider    visibility.Provider
	newProvider visibility.Factory
	unsubscribe []func()
	ctx         context.Context
	cancel      context.CancelFunc

	items        []models.Item
	index        map[string]int
	byPath       map[string]string
	nodes        map[string]*view.Node
	nodeItem     map[string]string
	intersecting map[string]bool
	decoded      map[string][2]int

	engine   *layout.Engine
	memo     *layout.Memo
	win      *window.Window
	windowed bool

	cache    *resources.Cache
	machine  *fetch.Machine
	queue    *queue.Queue
	throttle *queue.Throttle

	pumpTimer  clock.Timer
	sweepTimer clock.Timer
	frameTimer clock.Timer

	mounted  bool
	tornDown bool

	started   int
	completed int
	discarded int
}

// New creates an unmounted grid
func New(opts Options) (*Grid, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("thumbnail source is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid grid config: %w", err)
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	factory := opts.Visibility
	if factory == nil {
		factory = visibility.ViewportFactory(visibility.Options{
			Margin:    cfg.Visibility.Margin,
			Threshold: cfg.Visibility.Threshold,
		})
	}
	memo := opts.Memo
	if memo == nil {
		memo = layout.NewMemo(clk, cfg.Grid.LayoutMemoTTL)
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	g := &Grid{
		id:           id,
		logger:       log.WithFields(log.Fields{"grid": id}),
		cfg:          cfg,
		clock:        clk,
		source:       opts.Source,
		newProvider:  factory,
		ctx:          ctx,
		cancel:       cancel,
		index:        make(map[string]int),
		byPath:       make(map[string]string),
		nodes:        make(map[string]*view.Node),
		nodeItem:     make(map[string]string),
		intersecting: make(map[string]bool),
		decoded:      make(map[string][2]int),
		engine:       layout.NewEngine(cfg.Grid),
		memo:         memo,
		win:          window.New(cfg.Grid.BufferRows, cfg.Grid.Gap),
		cache:        resources.New(clk),
		machine:      fetch.NewMachine(fetch.PolicyFromConfig(cfg.Fetch), clk),
		queue:        queue.New(),
		throttle:     queue.NewThrottle(cfg.Queue),
	}
	return g, nil
}

// ID returns the grid's instance id
func (g *Grid) ID() string {
	return g.id
}

// effects are applied after the grid lock is released
type effects struct {
	events   []view.Event
	provider visibility.Provider
	check    bool
}

func (fx *effects) dispatch(n *view.Node, eventType string, err error) {
	fx.events = append(fx.events, view.Event{Type: eventType, Node: n, Err: err})
}

func (fx *effects) run() {
	for _, ev := range fx.events {
		ev.Node.Dispatch(ev)
	}
	if fx.check {
		if c, ok := fx.provider.(visibility.Checker); ok {
			c.Check()
		}
	}
}

// unlock releases the grid lock and applies the collected effects
func (g *Grid) unlock(fx *effects) {
	fx.provider = g.provider
	g.mu.Unlock()
	fx.run()
}

// Mount attaches the grid to a container. A grid mounts once.
func (g *Grid) Mount(c *view.Container) error {
	g.mu.Lock()
	if g.tornDown {
		g.mu.Unlock()
		return ErrTornDown
	}
	if g.mounted {
		g.mu.Unlock()
		return ErrMounted
	}

	var fx effects
	g.container = c
	g.provider = g.newProvider(c, g.onVisible)
	g.unsubscribe = append(g.unsubscribe, c.OnScroll(g.onScroll), c.OnResize(g.onResize))
	g.mounted = true
	g.sweepTimer = g.clock.AfterFunc(g.cfg.Cache.SweepInterval, g.onSweep)
	g.applyItemsLocked(g.items, false, &fx)

	vp := c.Viewport()
	g.logger.Infof("Mounted grid (%.0fx%.0f, %d items)", vp.Width, vp.Height, len(g.items))
	g.unlock(&fx)
	return nil
}

// SetItems replaces the item list. A list that strictly extends the current
// one with unchanged dimensions is laid out incrementally.
func (g *Grid) SetItems(items []models.Item) error {
	g.mu.Lock()
	if g.tornDown {
		g.mu.Unlock()
		return ErrTornDown
	}

	items = dedupe(items)
	if !g.mounted {
		g.items = items
		g.mu.Unlock()
		return nil
	}

	var fx effects
	incremental := extends(g.items, items) && g.windowed == g.wantWindowed(len(items))
	g.applyItemsLocked(items, incremental, &fx)
	g.unlock(&fx)
	return nil
}

// Invalidate forces a reload of the item with the given path. It returns
// false, changing nothing, when no current item has that path.
func (g *Grid) Invalidate(path string) bool {
	g.mu.Lock()
	if !g.mounted || g.tornDown {
		g.mu.Unlock()
		return false
	}
	id, ok := g.byPath[path]
	if !ok {
		g.mu.Unlock()
		return false
	}

	var fx effects
	g.machine.Reset(id)
	g.queue.Remove(id)
	delete(g.decoded, id)

	node := g.nodes[id]
	if node == nil {
		// not materialized: start over when the window reaches it
		g.machine.Forget(id)
		g.unlock(&fx)
		return true
	}

	g.setStateAttr(id, node)
	g.provider.Observe(node)
	if g.intersecting[id] {
		g.enqueueLocked(id, node)
	}
	g.pumpLocked()
	fx.check = true
	g.logger.Debugf("Invalidated %s", path)
	g.unlock(&fx)
	return true
}

// Teardown unobserves every node, cancels all timers and fetches, flushes
// the cache and removes the grid's nodes and mode attribute. It is safe to
// call more than once.
func (g *Grid) Teardown() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tornDown {
		return
	}
	g.tornDown = true
	g.cancel()

	for _, fn := range g.unsubscribe {
		fn()
	}
	g.unsubscribe = nil
	for _, t := range []clock.Timer{g.pumpTimer, g.sweepTimer, g.frameTimer} {
		if t != nil {
			t.Stop()
		}
	}
	g.pumpTimer, g.sweepTimer, g.frameTimer = nil, nil, nil

	if g.provider != nil {
		g.provider.Disconnect()
	}
	g.machine.CancelAll()
	g.queue.Clear()
	g.throttle.Reset()
	flushed := g.cache.Flush()

	removed := len(g.nodes)
	if g.container != nil {
		for id, node := range g.nodes {
			delete(g.nodes, id)
			g.container.RemoveNode(node)
		}
		g.container.SetAttr(ModeAttr, "")
	}
	g.nodeItem = make(map[string]string)
	g.intersecting = make(map[string]bool)
	g.win.Reset()

	g.logger.Infof("Grid torn down: %d nodes removed, %d resources released", removed, flushed)
}

// Mode returns the current rendering mode
func (g *Grid) Mode() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.modeLocked()
}

func (g *Grid) modeLocked() string {
	if g.windowed {
		return ModeWindowed
	}
	return ModeDense
}

// State returns an item's thumbnail state
func (g *Grid) State(id string) models.ThumbnailState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.machine.State(id)
}

// Slot returns an item's layout slot
func (g *Grid) Slot(id string) (layout.Slot, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	idx, ok := g.index[id]
	if !ok {
		return layout.Slot{}, false
	}
	slots := g.engine.Slots()
	if idx >= len(slots) {
		return layout.Slot{}, false
	}
	return slots[idx], true
}

// Node returns the node rendering an item, if materialized
func (g *Grid) Node(id string) (*view.Node, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	return n, ok
}

// Stats is a snapshot of the grid's bookkeeping
type Stats struct {
	ID               string
	Mode             string
	Items            int
	Nodes            int
	States           map[string]int
	Queued           int
	InFlight         int
	PeakInFlight     int
	Ceiling          int
	RetriesScheduled int
	PendingTimers    int
	Started          int
	Completed        int
	Discarded        int
	CacheEntries     int
	CacheBytes       int64
	CacheRevoked     uint64
	Generation       uint64
	ContentHeight    float64
}

// Stats returns a snapshot of the grid's bookkeeping
func (g *Grid) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	states := make(map[string]int)
	for state, n := range g.machine.Counts() {
		states[state.String()] = n
	}
	cs := g.cache.Stats()
	now := g.clock.Now()
	return Stats{
		ID:               g.id,
		Mode:             g.modeLocked(),
		Items:            len(g.items),
		Nodes:            len(g.nodes),
		States:           states,
		Queued:           g.queue.Len(),
		InFlight:         g.throttle.InFlight(),
		PeakInFlight:     g.throttle.Peak(),
		Ceiling:          g.throttle.Ceiling(now),
		RetriesScheduled: g.machine.RetriesScheduled(),
		PendingTimers:    g.machine.PendingTimers(),
		Started:          g.started,
		Completed:        g.completed,
		Discarded:        g.discarded,
		CacheEntries:     cs.Entries,
		CacheBytes:       cs.Bytes,
		CacheRevoked:     cs.Revoked,
		Generation:       g.engine.Generation(),
		ContentHeight:    g.engine.ContentHeight(),
	}
}

func (g *Grid) wantWindowed(n int) bool {
	return n > g.cfg.Grid.WindowThreshold
}

// dedupe drops items with an id seen earlier in the list. Items without an
// id use their path.
func dedupe(items []models.Item) []models.Item {
	seen := make(map[string]bool, len(items))
	out := make([]models.Item, 0, len(items))
	for _, it := range items {
		if it.ID == "" {
			it.ID = it.Path
		}
		if it.ID == "" || seen[it.ID] {
			log.Warnf("Skipping item with empty or duplicate id %q", it.ID)
			continue
		}
		seen[it.ID] = true
		out = append(out, it)
	}
	return out
}

// extends reports whether next strictly extends prev with identical ids and
// dimensions
func extends(prev, next []models.Item) bool {
	if len(prev) == 0 || len(next) <= len(prev) {
		return false
	}
	for i, it := range prev {
		n := next[i]
		if n.ID != it.ID || n.Width != it.Width || n.Height != it.Height {
			return false
		}
	}
	return true
}

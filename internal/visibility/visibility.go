// Package visibility reports which grid nodes are near or inside the
// viewport. Providers batch their reports and deliver them to a callback
// without holding their own lock.
package visibility

import (
	"math"
	"sync"

	"github.com/ST2Projects/media-grid/internal/view"
)

// Entry is one node's intersection with the pre-fetch zone
type Entry struct {
	Node         *view.Node
	Intersecting bool
	Ratio        float64
}

// Callback receives a batch of entries
type Callback func([]Entry)

// Provider observes nodes and reports intersection changes
type Provider interface {
	Observe(n *view.Node)
	Unobserve(n *view.Node)
	Disconnect()
}

// Checker is implemented by providers that compute intersections on demand
type Checker interface {
	Check()
}

// Factory builds a provider for a container
type Factory func(c *view.Container, cb Callback) Provider

// Options configure the viewport provider
type Options struct {
	Margin    float64 // pre-fetch distance added above and below the viewport
	Threshold float64 // minimum intersecting fraction of the node's height
}

type observed struct {
	node     *view.Node
	reported bool
	last     bool
}

// Viewport computes intersections from node rects and the container's
// scroll position
type Viewport struct {
	mu        sync.Mutex
	container *view.Container
	callback  Callback
	opts      Options
	nodes     map[string]*observed
	order     []string
}

// NewViewport creates a geometry-based provider
func NewViewport(c *view.Container, cb Callback, opts Options) *Viewport {
	return &Viewport{
		container: c,
		callback:  cb,
		opts:      opts,
		nodes:     make(map[string]*observed),
	}
}

// ViewportFactory returns a Factory producing viewport providers
func ViewportFactory(opts Options) Factory {
	return func(c *view.Container, cb Callback) Provider {
		return NewViewport(c, cb, opts)
	}
}

// Observe starts tracking a node. Its first Check reports it regardless of
// intersection, mirroring an initial observation.
func (v *Viewport) Observe(n *view.Node) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.nodes[n.ID()]; ok {
		return
	}
	v.nodes[n.ID()] = &observed{node: n}
	v.order = append(v.order, n.ID())
}

func (v *Viewport) Unobserve(n *view.Node) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.nodes[n.ID()]; !ok {
		return
	}
	delete(v.nodes, n.ID())
	for i, id := range v.order {
		if id == n.ID() {
			v.order = append(v.order[:i], v.order[i+1:]...)
			break
		}
	}
}

func (v *Viewport) Disconnect() {
	v.mu.Lock()
	v.nodes = make(map[string]*observed)
	v.order = nil
	v.mu.Unlock()
}

// Observed returns the number of tracked nodes
func (v *Viewport) Observed() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.nodes)
}

// Check recomputes intersections and delivers entries for newly observed
// nodes and nodes whose intersection flipped
func (v *Viewport) Check() {
	vp := v.container.Viewport()
	zoneTop := vp.ScrollTop - v.opts.Margin
	zoneBottom := vp.Bottom() + v.opts.Margin

	v.mu.Lock()
	var batch []Entry
	for _, id := range v.order {
		o := v.nodes[id]
		ratio := Ratio(o.node.Rect(), zoneTop, zoneBottom)
		intersecting := ratio > 0 && ratio >= v.opts.Threshold
		if o.reported && o.last == intersecting {
			continue
		}
		o.reported = true
		o.last = intersecting
		batch = append(batch, Entry{Node: o.node, Intersecting: intersecting, Ratio: ratio})
	}
	cb := v.callback
	v.mu.Unlock()

	if len(batch) > 0 && cb != nil {
		cb(batch)
	}
}

// Ratio returns the fraction of r's height inside [top, bottom]. A zero
// height rect counts as fully inside when its top lies in the range.
func Ratio(r view.Rect, top, bottom float64) float64 {
	if r.Height <= 0 {
		if r.Top >= top && r.Top <= bottom {
			return 1
		}
		return 0
	}
	overlap := math.Min(r.Bottom(), bottom) - math.Max(r.Top, top)
	if overlap <= 0 {
		return 0
	}
	return math.Min(1, overlap/r.Height)
}

// Manual is a provider driven entirely by Emit
type Manual struct {
	mu       sync.Mutex
	callback Callback
	nodes    map[string]*view.Node
}

// NewManual creates a provider that only reports what Emit is given
func NewManual(cb Callback) *Manual {
	return &Manual{callback: cb, nodes: make(map[string]*view.Node)}
}

func (m *Manual) Observe(n *view.Node) {
	m.mu.Lock()
	m.nodes[n.ID()] = n
	m.mu.Unlock()
}

func (m *Manual) Unobserve(n *view.Node) {
	m.mu.Lock()
	delete(m.nodes, n.ID())
	m.mu.Unlock()
}

func (m *Manual) Disconnect() {
	m.mu.Lock()
	m.nodes = make(map[string]*view.Node)
	m.mu.Unlock()
}

// IsObserved reports whether the node is currently observed
func (m *Manual) IsObserved(n *view.Node) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.nodes[n.ID()]
	return ok
}

// Observed returns the currently observed nodes
func (m *Manual) Observed() []*view.Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*view.Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n)
	}
	return out
}

// Emit delivers entries for observed nodes; entries for other nodes are dropped
func (m *Manual) Emit(entries ...Entry) {
	m.mu.Lock()
	batch := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if _, ok := m.nodes[e.Node.ID()]; ok {
			batch = append(batch, e)
		}
	}
	cb := m.callback
	m.mu.Unlock()

	if len(batch) > 0 && cb != nil {
		cb(batch)
	}
}


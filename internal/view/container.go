package view

import (
	"fmt"
	"sort"
	"sync"
)

// Viewport is the visible window onto a container's content
type Viewport struct {
	ScrollTop float64
	Width     float64
	Height    float64
}

// Bottom returns the lower edge of the visible range
func (v Viewport) Bottom() float64 {
	return v.ScrollTop + v.Height
}

// Container holds the nodes of one grid and its scroll state
type Container struct {
	mu            sync.Mutex
	nodes         map[string]*Node
	order         []string
	viewport      Viewport
	contentHeight float64
	attrs         map[string]string
	nextID        uint64
	nextListener  uint64
	scroll        map[uint64]func(Viewport)
	resize        map[uint64]func(Viewport)
}

// NewContainer creates an empty container with the given viewport size
func NewContainer(width, height float64) *Container {
	return &Container{
		nodes:    make(map[string]*Node),
		viewport: Viewport{Width: width, Height: height},
		attrs:    make(map[string]string),
		scroll:   make(map[uint64]func(Viewport)),
		resize:   make(map[uint64]func(Viewport)),
	}
}

// CreateNode appends a connected node rendering the given item
func (c *Container) CreateNode(itemID string) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	n := newNode(fmt.Sprintf("node-%d", c.nextID), itemID)
	c.nodes[n.id] = n
	c.order = append(c.order, n.id)
	return n
}

// RemoveNode detaches a node. Disconnect listeners run after the container
// lock is released.
func (c *Container) RemoveNode(n *Node) {
	if n == nil {
		return
	}
	c.mu.Lock()
	if _, ok := c.nodes[n.id]; ok {
		delete(c.nodes, n.id)
		for i, id := range c.order {
			if id == n.id {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
	c.mu.Unlock()

	if n.disconnect() {
		n.Dispatch(Event{Type: EventDisconnect})
	}
}

// Nodes returns the attached nodes in insertion order
func (c *Container) Nodes() []*Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*Node, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.nodes[id])
	}
	return out
}

// Len returns the number of attached nodes
func (c *Container) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.nodes)
}

func (c *Container) Viewport() Viewport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewport
}

// ContentHeight is the total scrollable height set by the layout
func (c *Container) ContentHeight() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contentHeight
}

func (c *Container) SetContentHeight(h float64) {
	c.mu.Lock()
	c.contentHeight = h
	c.mu.Unlock()
}

func (c *Container) Attr(key string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attrs[key]
}

func (c *Container) SetAttr(key, value string) {
	c.mu.Lock()
	if value == "" {
		delete(c.attrs, key)
	} else {
		c.attrs[key] = value
	}
	c.mu.Unlock()
}

// ScrollTo moves the viewport, clamped to the content, and notifies scroll listeners
func (c *Container) ScrollTo(top float64) {
	c.mu.Lock()
	maxTop := c.contentHeight - c.viewport.Height
	if top > maxTop {
		top = maxTop
	}
	if top < 0 {
		top = 0
	}
	c.viewport.ScrollTop = top
	vp := c.viewport
	fns := listenerList(c.scroll)
	c.mu.Unlock()

	for _, fn := range fns {
		fn(vp)
	}
}

// Resize changes the viewport size and notifies resize listeners
func (c *Container) Resize(width, height float64) {
	c.mu.Lock()
	c.viewport.Width = width
	c.viewport.Height = height
	vp := c.viewport
	fns := listenerList(c.resize)
	c.mu.Unlock()

	for _, fn := range fns {
		fn(vp)
	}
}

// OnScroll registers a scroll listener and returns a function removing it
func (c *Container) OnScroll(fn func(Viewport)) func() {
	return c.listen(c.scroll, fn)
}

// OnResize registers a resize listener and returns a function removing it
func (c *Container) OnResize(fn func(Viewport)) func() {
	return c.listen(c.resize, fn)
}

func (c *Container) listen(set map[uint64]func(Viewport), fn func(Viewport)) func() {
	c.mu.Lock()
	c.nextListener++
	id := c.nextListener
	set[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(set, id)
		c.mu.Unlock()
	}
}

func listenerList(set map[uint64]func(Viewport)) []func(Viewport) {
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]func(Viewport), len(ids))
	for i, id := range ids {
		out[i] = set[id]
	}
	return out
}

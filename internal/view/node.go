// Package view is the headless document the grid renders into: a scrollable
// container of positioned nodes with attributes, a displayed resource
// identity and event listeners.
package view

import (
	"sync"
)

// Event types dispatched to nodes
const (
	EventThumbnailLoad  = "thumbnail-load"
	EventThumbnailError = "thumbnail-error"
	EventDisconnect     = "disconnect"
)

// Event is delivered to node listeners
type Event struct {
	Type string
	Node *Node
	Err  error
}

// Rect is an absolute position inside the container's content box
type Rect struct {
	Left   float64
	Top    float64
	Width  float64
	Height float64
}

// Bottom returns the rect's lower edge
func (r Rect) Bottom() float64 {
	return r.Top + r.Height
}

// Node is one grid cell
type Node struct {
	mu        sync.Mutex
	id        string
	itemID    string
	connected bool
	rect      Rect
	measured  float64
	source    uint64
	attrs     map[string]string
	listeners map[string][]func(Event)
}

func newNode(id, itemID string) *Node {
	return &Node{
		id:        id,
		itemID:    itemID,
		connected: true,
		attrs:     make(map[string]string),
		listeners: make(map[string][]func(Event)),
	}
}

// ID returns the node's document-unique id
func (n *Node) ID() string {
	return n.id
}

// ItemID returns the id of the item the node renders
func (n *Node) ItemID() string {
	return n.itemID
}

// Connected reports whether the node is still attached to its container
func (n *Node) Connected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connected
}

func (n *Node) Rect() Rect {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rect
}

func (n *Node) SetRect(r Rect) {
	n.mu.Lock()
	n.rect = r
	n.mu.Unlock()
}

// MeasuredHeight is the rendered content height, 0 until content has been painted
func (n *Node) MeasuredHeight() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.measured
}

func (n *Node) SetMeasuredHeight(h float64) {
	n.mu.Lock()
	n.measured = h
	n.mu.Unlock()
}

// Source returns the identity of the resource currently displayed, 0 if none
func (n *Node) Source() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.source
}

func (n *Node) SetSource(id uint64) {
	n.mu.Lock()
	n.source = id
	n.mu.Unlock()
}

// ClearSource detaches the displayed resource only if it is still expected
func (n *Node) ClearSource(expected uint64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.source != expected {
		return false
	}
	n.source = 0
	return true
}

func (n *Node) Attr(key string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.attrs[key]
}

func (n *Node) SetAttr(key, value string) {
	n.mu.Lock()
	if value == "" {
		delete(n.attrs, key)
	} else {
		n.attrs[key] = value
	}
	n.mu.Unlock()
}

// On registers a listener for the given event type
func (n *Node) On(eventType string, fn func(Event)) {
	n.mu.Lock()
	n.listeners[eventType] = append(n.listeners[eventType], fn)
	n.mu.Unlock()
}

// Dispatch delivers an event to the node's listeners on the calling goroutine
func (n *Node) Dispatch(ev Event) {
	n.mu.Lock()
	fns := append([]func(Event){}, n.listeners[ev.Type]...)
	n.mu.Unlock()

	ev.Node = n
	for _, fn := range fns {
		fn(ev)
	}
}

func (n *Node) disconnect() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.connected {
		return false
	}
	n.connected = false
	return true
}

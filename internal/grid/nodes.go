package grid

import (
	"math"

	"github.com/ST2Projects/media-grid/internal/resources"
	"github.com/ST2Projects/media-grid/internal/thumbnails"
	"github.com/ST2Projects/media-grid/internal/view"
	"github.com/ST2Projects/media-grid/internal/visibility"
	"github.com/ST2Projects/media-grid/pkg/models"
)

// ensureNodeLocked materializes the item at idx if it has no node yet
func (g *Grid) ensureNodeLocked(idx int) {
	if idx < 0 || idx >= len(g.items) {
		return
	}
	it := g.items[idx]
	if _, ok := g.nodes[it.ID]; ok {
		return
	}

	node := g.container.CreateNode(it.ID)
	if slots := g.engine.Slots(); idx < len(slots) {
		node.SetRect(rectOf(slots[idx]))
	}
	node.On(view.EventDisconnect, func(ev view.Event) {
		// removal may happen under the grid lock
		go g.handleDisconnect(ev.Node)
	})
	g.nodes[it.ID] = node
	g.nodeItem[node.ID()] = it.ID

	if g.machine.State(it.ID) == models.StateFailed {
		g.showFallbackLocked(node, nil)
		g.setStateAttr(it.ID, node)
		return
	}
	g.setStateAttr(it.ID, node)
	g.provider.Observe(node)
}

// destroyNodeLocked removes an item's node and everything it owned
func (g *Grid) destroyNodeLocked(id string) {
	node, ok := g.nodes[id]
	if !ok {
		return
	}
	g.releaseNodeLocked(id, node)
	g.container.RemoveNode(node)
}

// releaseNodeLocked drops the grid's references to a node: observation,
// cache entry, queue entry and fetch work. Failed records survive so a
// re-created node shows the fallback without refetching.
func (g *Grid) releaseNodeLocked(id string, node *view.Node) {
	g.provider.Unobserve(node)
	g.cache.Revoke(node)
	g.queue.Remove(id)
	if g.machine.State(id) == models.StateFailed {
		g.machine.Cancel(id)
	} else {
		g.machine.Forget(id)
	}
	delete(g.nodes, id)
	delete(g.nodeItem, node.ID())
	delete(g.intersecting, id)
}

// forgetItemLocked drops all state of an item leaving the list
func (g *Grid) forgetItemLocked(id string) {
	g.destroyNodeLocked(id)
	g.queue.Remove(id)
	g.machine.Forget(id)
	delete(g.decoded, id)
}

// handleDisconnect cleans up after a node removed by anyone other than the
// grid itself
func (g *Grid) handleDisconnect(node *view.Node) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tornDown {
		return
	}
	id, ok := g.nodeItem[node.ID()]
	if !ok || g.nodes[id] != node {
		return
	}
	g.logger.Debugf("Node for %s disconnected, releasing its resources", id)
	g.releaseNodeLocked(id, node)
	g.pumpLocked()
}

// onSweep reclaims entries of disconnected nodes and TTL-expired entries.
// Connected owners of expired entries go back to idle and are re-observed.
// Failed items and ready items near the viewport are pinned: their entries
// do not expire, so terminal states never lead to a refetch.
func (g *Grid) onSweep() {
	g.mu.Lock()
	g.sweepTimer = nil
	if g.tornDown {
		g.mu.Unlock()
		return
	}

	var fx effects
	for id, node := range g.nodes {
		if !node.Connected() {
			g.releaseNodeLocked(id, node)
		}
	}

	for _, owner := range g.cache.SweepExpired(g.cfg.Cache.MaxAge, g.pinnedLocked) {
		node, ok := owner.(*view.Node)
		if !ok {
			continue
		}
		id, ok := g.nodeItem[node.ID()]
		if !ok || !node.Connected() {
			continue
		}
		// outside the pre-fetch zone: wait for the provider to report it again
		g.machine.Reset(id)
		delete(g.intersecting, id)
		g.setStateAttr(id, node)
		g.provider.Observe(node)
		fx.check = true
	}

	g.pumpLocked()
	g.sweepTimer = g.clock.AfterFunc(g.cfg.Cache.SweepInterval, g.onSweep)
	g.unlock(&fx)
}

// pinnedLocked reports whether owner's entry must survive age expiry
func (g *Grid) pinnedLocked(owner resources.Owner) bool {
	node, ok := owner.(*view.Node)
	if !ok {
		return false
	}
	id, ok := g.nodeItem[node.ID()]
	if !ok {
		return false
	}
	switch g.machine.State(id) {
	case models.StateFailed:
		return true
	case models.StateReady:
		return g.nearViewportLocked(node)
	}
	return false
}

// nearViewportLocked reports whether node lies within the pre-fetch margin
// of the viewport. Terminal nodes are unobserved, so this is computed from
// geometry rather than the last visibility entry.
func (g *Grid) nearViewportLocked(node *view.Node) bool {
	vp := g.container.Viewport()
	r := node.Rect()
	margin := g.cfg.Visibility.Margin
	return r.Bottom() >= vp.ScrollTop-margin && r.Top <= vp.Bottom()+margin
}

// onVisible handles a batch of visibility entries
func (g *Grid) onVisible(entries []visibility.Entry) {
	g.mu.Lock()
	if g.tornDown {
		g.mu.Unlock()
		return
	}

	var fx effects
	for _, e := range entries {
		id, ok := g.nodeItem[e.Node.ID()]
		if !ok || g.nodes[id] != e.Node {
			continue
		}
		g.intersecting[id] = e.Intersecting

		state := g.machine.State(id)
		if state.Terminal() {
			g.provider.Unobserve(e.Node)
			continue
		}
		if e.Intersecting {
			g.enqueueLocked(id, e.Node)
		} else if state == models.StateQueued {
			g.queue.Remove(id)
			g.machine.Unqueue(id)
			g.setStateAttr(id, e.Node)
		}
	}
	g.pumpLocked()
	g.unlock(&fx)
}

// enqueueLocked queues an item unless it is in flight, waiting on a retry
// or terminal
func (g *Grid) enqueueLocked(id string, node *view.Node) {
	if !g.machine.Enqueueable(id) {
		return
	}
	g.machine.MarkQueued(id)
	g.queue.Push(id, g.priorityLocked(node), g.clock.Now())
	g.setStateAttr(id, node)
}

// priorityLocked is the node's distance from the viewport's top edge
func (g *Grid) priorityLocked(node *view.Node) float64 {
	vp := g.container.Viewport()
	return math.Abs(node.Rect().Top - vp.ScrollTop)
}

// reprioritizeLocked recomputes the priority of every queued item
func (g *Grid) reprioritizeLocked() {
	if g.queue.Len() == 0 {
		return
	}
	now := g.clock.Now()
	for id, node := range g.nodes {
		if g.queue.Contains(id) {
			g.queue.Push(id, g.priorityLocked(node), now)
		}
	}
}

func (g *Grid) setStateAttr(id string, node *view.Node) {
	node.SetAttr(StateAttr, g.machine.State(id).String())
}

// showFallbackLocked displays body when decodable, otherwise the built-in
// fallback asset
func (g *Grid) showFallbackLocked(node *view.Node, body []byte) {
	if len(body) > 0 {
		if _, err := g.cache.Set(node, body); err == nil {
			return
		}
	}
	if _, err := g.cache.Set(node, thumbnails.Fallback()); err != nil {
		g.logger.Errorf("Failed to render fallback thumbnail: %v", err)
	}
}

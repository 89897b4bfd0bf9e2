package grid

import (
	"github.com/ST2Projects/media-grid/internal/layout"
	"github.com/ST2Projects/media-grid/internal/view"
	"github.com/ST2Projects/media-grid/pkg/models"
)

// applyItemsLocked installs a new item list, lays it out and reconciles the
// materialized nodes
func (g *Grid) applyItemsLocked(items []models.Item, incremental bool, fx *effects) {
	prev := len(g.items)
	keep := make(map[string]bool, len(items))
	for _, it := range items {
		keep[it.ID] = true
	}
	for id := range g.nodes {
		if !keep[id] {
			g.destroyNodeLocked(id)
		}
	}
	for _, it := range g.items {
		if !keep[it.ID] {
			g.forgetItemLocked(it.ID)
		}
	}

	g.items = items
	g.index = make(map[string]int, len(items))
	g.byPath = make(map[string]string, len(items))
	for i, it := range items {
		g.index[it.ID] = i
		path := it.Path
		if path == "" {
			path = it.ID
		}
		g.byPath[path] = it.ID
	}

	windowed := g.wantWindowed(len(items))
	if windowed != g.windowed {
		g.logger.Infof("Switching to %s mode at %d items", modeName(windowed), len(items))
	}
	g.windowed = windowed
	g.container.SetAttr(ModeAttr, g.modeLocked())

	if incremental {
		inputs := make([]layout.Input, 0, len(items)-prev)
		for _, it := range items[prev:] {
			inputs = append(inputs, g.inputLocked(it))
		}
		g.engine.Append(inputs)
		g.logger.Debugf("Appended %d items to layout generation %d", len(inputs), g.engine.Generation())
	} else {
		g.fullLayoutLocked()
	}
	g.writeLayoutLocked()
	fx.check = true
}

func modeName(windowed bool) string {
	if windowed {
		return ModeWindowed
	}
	return ModeDense
}

// inputLocked reads what the packer needs for an item. Decoded dimensions
// replace declared ones once known.
func (g *Grid) inputLocked(it models.Item) layout.Input {
	in := layout.Input{ID: it.ID, Width: float64(it.Width), Height: float64(it.Height)}
	if d, ok := g.decoded[it.ID]; ok {
		in.Width, in.Height = float64(d[0]), float64(d[1])
	}
	if n, ok := g.nodes[it.ID]; ok {
		in.Measured = n.MeasuredHeight()
	}
	return in
}

// fullLayoutLocked runs the read phase and a full pass, reusing a memoized
// layout when one matches
func (g *Grid) fullLayoutLocked() {
	inputs := make([]layout.Input, len(g.items))
	for i, it := range g.items {
		inputs[i] = g.inputLocked(it)
	}

	width := g.container.Viewport().Width
	columns := layout.Columns(width, g.cfg.Grid.Breakpoints)
	sig := layout.Signature(inputs)
	if slots, heights, ok := g.memo.Get(width, columns, sig); ok && len(slots) == len(inputs) {
		g.engine.Restore(width, slots, heights, sig)
		return
	}

	slots := g.engine.Full(width, inputs)
	g.memo.Put(width, columns, sig, slots, g.engine.Heights())
}

// writeLayoutLocked is the write phase: node rects, content height, the
// window's slot index and node materialization
func (g *Grid) writeLayoutLocked() {
	slots := g.engine.Slots()
	g.container.SetContentHeight(g.engine.ContentHeight())
	for id, node := range g.nodes {
		if idx, ok := g.index[id]; ok && idx < len(slots) {
			node.SetRect(rectOf(slots[idx]))
		}
	}
	if g.windowed {
		g.win.SetSlots(slots)
	} else {
		g.win.Reset()
	}
	g.syncNodesLocked()
}

// syncNodesLocked creates and destroys nodes so exactly the wanted items
// are materialized: every item in dense mode, the window in windowed mode
func (g *Grid) syncNodesLocked() {
	if !g.windowed {
		for i := range g.items {
			g.ensureNodeLocked(i)
		}
		return
	}

	enter, exit := g.win.Update(g.container.Viewport())
	for _, idx := range exit {
		if idx < len(g.items) {
			g.destroyNodeLocked(g.items[idx].ID)
		}
	}
	for id := range g.nodes {
		if idx, ok := g.index[id]; !ok || !g.win.IsActive(idx) {
			g.destroyNodeLocked(id)
		}
	}
	for _, idx := range enter {
		g.ensureNodeLocked(idx)
	}
	for _, idx := range g.win.Active() {
		g.ensureNodeLocked(idx)
	}
}

func rectOf(s layout.Slot) view.Rect {
	return view.Rect{Left: s.Left, Top: s.Top, Width: s.Width, Height: s.Height}
}

// scheduleFrameLocked defers a full relayout to the next frame. Requests
// within one frame coalesce.
func (g *Grid) scheduleFrameLocked() {
	if g.frameTimer != nil || g.tornDown {
		return
	}
	g.frameTimer = g.clock.AfterFunc(g.cfg.Grid.FrameInterval, g.onFrame)
}

func (g *Grid) onFrame() {
	g.mu.Lock()
	g.frameTimer = nil
	if g.tornDown || !g.mounted {
		g.mu.Unlock()
		return
	}

	// The pass runs entirely under g.mu, so passes never interleave.
	var fx effects
	g.fullLayoutLocked()
	g.writeLayoutLocked()
	fx.check = true
	g.unlock(&fx)
}

func (g *Grid) onScroll(vp view.Viewport) {
	g.mu.Lock()
	if g.tornDown {
		g.mu.Unlock()
		return
	}

	var fx effects
	g.throttle.ObserveScroll(vp.ScrollTop, g.clock.Now())
	if g.windowed {
		g.syncNodesLocked()
	}
	g.reprioritizeLocked()
	g.pumpLocked()
	fx.check = true
	g.unlock(&fx)
}

func (g *Grid) onResize(vp view.Viewport) {
	g.mu.Lock()
	if g.tornDown || !g.mounted {
		g.mu.Unlock()
		return
	}

	var fx effects
	if vp.Width != g.engine.Width() {
		g.scheduleFrameLocked()
	} else if g.windowed {
		g.syncNodesLocked()
		fx.check = true
	}
	g.unlock(&fx)
}

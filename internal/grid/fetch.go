package grid

import (
	"context"
	"fmt"

	"github.com/ST2Projects/media-grid/internal/fetch"
	"github.com/ST2Projects/media-grid/internal/layout"
	"github.com/ST2Projects/media-grid/internal/view"
	"github.com/ST2Projects/media-grid/pkg/models"
)

// pumpLocked starts queued fetches while the throttle allows. When only the
// spacing blocks, a timer resumes pumping; a full ceiling waits for a
// completion.
func (g *Grid) pumpLocked() {
	for g.queue.Len() > 0 && !g.tornDown {
		now := g.clock.Now()
		ok, wait := g.throttle.CanStart(now)
		if !ok {
			if wait > 0 && g.pumpTimer == nil {
				g.pumpTimer = g.clock.AfterFunc(wait, g.onPumpTimer)
			}
			return
		}

		e, _ := g.queue.Pop()
		node, ok := g.nodes[e.ItemID]
		idx, known := g.index[e.ItemID]
		if !ok || !known || !node.Connected() {
			g.machine.Forget(e.ItemID)
			continue
		}

		item := g.items[idx]
		ctx, epoch := g.machine.Begin(g.ctx, item.ID)
		g.throttle.Started(now)
		g.started++
		g.setStateAttr(item.ID, node)
		go g.runFetch(ctx, item, epoch)
	}
}

func (g *Grid) onPumpTimer() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pumpTimer = nil
	g.pumpLocked()
}

func (g *Grid) runFetch(ctx context.Context, item models.Item, epoch uint64) {
	resp, err := g.safeFetch(ctx, item)
	g.complete(ctx, item.ID, epoch, resp, err)
}

// safeFetch turns a panicking source into a transport error
func (g *Grid) safeFetch(ctx context.Context, item models.Item) (resp fetch.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("thumbnail source panicked: %v", r)
		}
	}()
	return g.source.Fetch(ctx, item)
}

// complete applies a finished fetch. Completions for aborted requests,
// superseded epochs or removed nodes are discarded without touching the
// cache.
func (g *Grid) complete(ctx context.Context, id string, epoch uint64, resp fetch.Response, err error) {
	g.mu.Lock()
	g.throttle.Done()
	if g.tornDown {
		g.mu.Unlock()
		return
	}

	var fx effects
	node := g.nodes[id]
	if ctx.Err() != nil || !g.machine.Current(id, epoch) || node == nil || !node.Connected() {
		g.discarded++
		if g.machine.Current(id, epoch) {
			g.machine.Forget(id)
		}
		g.logger.Debugf("Discarded thumbnail response for %s", id)
		g.pumpLocked()
		g.unlock(&fx)
		return
	}
	g.completed++

	var decodedW, decodedH int
	if err == nil && resp.Outcome == fetch.OutcomeReady {
		h, cerr := g.cache.Set(node, resp.Body)
		if cerr != nil {
			err = fmt.Errorf("failed to decode thumbnail: %w", cerr)
		} else {
			decodedW, decodedH = h.Width, h.Height
		}
	}
	if err == nil && resp.Outcome == fetch.OutcomeProcessing && len(resp.Body) > 0 {
		if _, perr := g.cache.Set(node, resp.Body); perr != nil {
			g.logger.Debugf("Ignoring undecodable preview for %s: %v", id, perr)
		}
	}

	d := g.machine.Resolve(id, epoch, resp, err)
	switch {
	case d.State == models.StateReady:
		g.provider.Unobserve(node)
		g.onDecodedLocked(id, node, decodedW, decodedH)
		fx.dispatch(node, view.EventThumbnailLoad, nil)

	case d.Retry:
		g.machine.Schedule(id, d.Delay, g.onRetry)

	case d.Fallback:
		g.provider.Unobserve(node)
		g.showFallbackLocked(node, resp.Body)
		if d.DispatchError {
			var lastErr error
			if rec, ok := g.machine.Lookup(id); ok {
				lastErr = rec.LastErr
			}
			fx.dispatch(node, view.EventThumbnailError, lastErr)
		}
		g.logger.Warnf("Thumbnail for %s failed: %s", id, d.Reason)
	}
	g.setStateAttr(id, node)

	g.pumpLocked()
	g.unlock(&fx)
}

// onDecodedLocked records the rendered height and schedules a relayout when
// the decoded aspect ratio disagrees with the declared one
func (g *Grid) onDecodedLocked(id string, node *view.Node, w, h int) {
	if w <= 0 || h <= 0 {
		return
	}
	if cw := g.engine.ColumnWidth(); cw > 0 {
		node.SetMeasuredHeight(cw * float64(h) / float64(w))
	}

	idx, ok := g.index[id]
	if !ok {
		return
	}
	it := g.items[idx]
	declared := layout.Input{ID: id, Width: float64(it.Width), Height: float64(it.Height)}
	if _, seen := g.decoded[id]; seen || !g.engine.Mismatch(declared, w, h) {
		return
	}
	g.decoded[id] = [2]int{w, h}
	g.logger.Debugf("Decoded size %dx%d of %s differs from %dx%d, relayout scheduled", w, h, id, it.Width, it.Height)
	g.scheduleFrameLocked()
}

// onRetry re-queues an item whose retry timer fired
func (g *Grid) onRetry(id string, epoch uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tornDown || !g.machine.ClaimRetry(id, epoch) {
		return
	}
	node, ok := g.nodes[id]
	if !ok || !node.Connected() {
		g.machine.Forget(id)
		return
	}
	g.queue.Push(id, g.priorityLocked(node), g.clock.Now())
	g.pumpLocked()
}

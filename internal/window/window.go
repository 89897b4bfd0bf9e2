// Package window selects the subset of a large grid that is materialized:
// the items whose slots fall inside the viewport plus a buffer of rows above
// and below it.
package window

import (
	"sort"

	"github.com/ST2Projects/media-grid/internal/layout"
	"github.com/ST2Projects/media-grid/internal/view"
)

// Window tracks the active item indexes for the slots of the full logical
// list. It is not safe for concurrent use.
type Window struct {
	bufferRows int
	gap        float64

	slots     []layout.Slot
	byTop     []int
	maxHeight float64
	avgRow    float64

	active map[int]bool
}

// New creates a window keeping bufferRows average rows around the viewport
func New(bufferRows int, gap float64) *Window {
	if bufferRows < 0 {
		bufferRows = 0
	}
	return &Window{
		bufferRows: bufferRows,
		gap:        gap,
		active:     make(map[int]bool),
	}
}

// SetSlots replaces the slots the window selects from. The active set is
// kept; the next Update reconciles it.
func (w *Window) SetSlots(slots []layout.Slot) {
	w.slots = slots
	w.byTop = make([]int, len(slots))
	w.maxHeight = 0
	total := 0.0
	for i, s := range slots {
		w.byTop[i] = i
		if s.Height > w.maxHeight {
			w.maxHeight = s.Height
		}
		total += s.Height + w.gap
	}
	sort.SliceStable(w.byTop, func(a, b int) bool {
		return slots[w.byTop[a]].Top < slots[w.byTop[b]].Top
	})
	w.avgRow = 0
	if len(slots) > 0 {
		w.avgRow = total / float64(len(slots))
	}
}

// Buffer returns the distance kept above and below the viewport
func (w *Window) Buffer() float64 {
	return float64(w.bufferRows) * w.avgRow
}

// Range returns the materialized band for a viewport
func (w *Window) Range(vp view.Viewport) (float64, float64) {
	b := w.Buffer()
	return vp.ScrollTop - b, vp.Bottom() + b
}

// Visible returns the sorted indexes of slots intersecting the band
func (w *Window) Visible(vp view.Viewport) []int {
	top, bottom := w.Range(vp)

	// no slot starting above top-maxHeight can reach the band
	start := sort.Search(len(w.byTop), func(i int) bool {
		return w.slots[w.byTop[i]].Top > top-w.maxHeight
	})
	var out []int
	for _, idx := range w.byTop[start:] {
		s := w.slots[idx]
		if s.Top >= bottom {
			break
		}
		if s.Bottom() > top || (s.Height == 0 && s.Top >= top) {
			out = append(out, idx)
		}
	}
	sort.Ints(out)
	return out
}

// Update moves the window to the viewport and returns the indexes that
// entered and exited, both sorted
func (w *Window) Update(vp view.Viewport) (enter, exit []int) {
	visible := w.Visible(vp)
	next := make(map[int]bool, len(visible))
	for _, idx := range visible {
		next[idx] = true
		if !w.active[idx] {
			enter = append(enter, idx)
		}
	}
	for idx := range w.active {
		if !next[idx] {
			exit = append(exit, idx)
		}
	}
	sort.Ints(exit)
	w.active = next
	return enter, exit
}

// Active returns the sorted active indexes
func (w *Window) Active() []int {
	out := make([]int, 0, len(w.active))
	for idx := range w.active {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

func (w *Window) IsActive(idx int) bool {
	return w.active[idx]
}

// Len returns the number of active indexes
func (w *Window) Len() int {
	return len(w.active)
}

// Reset empties the active set and returns what was active
func (w *Window) Reset() []int {
	prev := w.Active()
	w.active = make(map[int]bool)
	return prev
}

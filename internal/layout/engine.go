// Package layout packs grid items into balanced columns. Placement depends
// only on the container width, the breakpoints, the gap and each item's
// intrinsic size, never on whether its thumbnail has loaded.
package layout

import (
	"math"

	"github.com/ST2Projects/media-grid/internal/config"
)

// Slot is the computed position of one item
type Slot struct {
	Column     int
	Left       float64
	Top        float64
	Width      float64
	Height     float64
	Generation uint64
}

// Bottom returns the slot's lower edge
func (s Slot) Bottom() float64 {
	return s.Top + s.Height
}

// Input is what the packer knows about an item
type Input struct {
	ID       string
	Width    float64 // declared intrinsic width, 0 if unknown
	Height   float64 // declared intrinsic height, 0 if unknown
	Measured float64 // rendered height, 0 until measured
}

// Columns returns the column count for a viewport width: the last breakpoint
// whose minimum width fits, at least one
func Columns(width float64, breakpoints []config.Breakpoint) int {
	cols := 1
	for _, bp := range breakpoints {
		if width >= bp.MinWidth && bp.Columns > 0 {
			cols = bp.Columns
		}
	}
	return cols
}

// Engine holds the column-height vector and slots of the current layout
// generation. It is not safe for concurrent use.
type Engine struct {
	cfg        config.GridConfig
	width      float64
	columns    int
	colWidth   float64
	heights    []float64
	slots      []Slot
	generation uint64
	signature  uint64
}

// NewEngine creates an engine with no layout
func NewEngine(cfg config.GridConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Full resets the column heights and places every item. A new generation
// starts unless the width and inputs equal the previous full pass.
func (e *Engine) Full(width float64, items []Input) []Slot {
	if !finitePositive(width) {
		width = 0
	}
	columns := Columns(width, e.cfg.Breakpoints)
	colWidth := columnWidth(width, columns, e.cfg.Gap)

	sig := Signature(items)
	if e.generation == 0 || width != e.width || sig != e.signature || len(e.slots) != len(items) {
		e.generation++
	}
	e.signature = sig
	heights := make([]float64, columns)
	slots := make([]Slot, 0, len(items))
	for _, in := range items {
		slots = append(slots, e.place(heights, colWidth, in))
	}

	e.width = width
	e.columns = columns
	e.colWidth = colWidth
	e.heights = heights
	e.slots = slots
	return e.Slots()
}

// Append places items after the existing ones on the current column
// heights. Without a prior layout it behaves like Full at width 0.
func (e *Engine) Append(items []Input) []Slot {
	if e.columns == 0 {
		e.Full(e.width, nil)
	}

	heights := append([]float64(nil), e.heights...)
	added := make([]Slot, 0, len(items))
	for _, in := range items {
		added = append(added, e.place(heights, e.colWidth, in))
	}

	e.heights = heights
	e.slots = append(e.slots, added...)
	e.signature = 0
	return added
}

func (e *Engine) place(heights []float64, colWidth float64, in Input) Slot {
	col := shortest(heights)
	h := e.estimate(in, colWidth)
	s := Slot{
		Column:     col,
		Left:       float64(col) * (colWidth + e.cfg.Gap),
		Top:        heights[col],
		Width:      colWidth,
		Height:     h,
		Generation: e.generation,
	}
	heights[col] += h + e.cfg.Gap
	return s
}

// EstimateHeight returns the height an item would get at the current column
// width
func (e *Engine) EstimateHeight(in Input) float64 {
	return e.estimate(in, e.colWidth)
}

// estimate prefers declared dimensions, then the measured height, then the
// default. Anything taller than MaxAspect column widths is clamped.
func (e *Engine) estimate(in Input, colWidth float64) float64 {
	h := e.defaultHeight()
	switch {
	case finitePositive(in.Width) && finitePositive(in.Height) && colWidth > 0:
		h = colWidth * in.Height / in.Width
	case finitePositive(in.Measured):
		h = in.Measured
	}
	if !finitePositive(h) {
		h = e.defaultHeight()
	}
	if e.cfg.MaxAspect > 0 && colWidth > 0 && h > e.cfg.MaxAspect*colWidth {
		h = e.cfg.MaxAspect * colWidth
	}
	return h
}

func (e *Engine) defaultHeight() float64 {
	if finitePositive(e.cfg.DefaultHeight) {
		return e.cfg.DefaultHeight
	}
	return 240
}

// Mismatch reports whether a decoded image's aspect ratio differs from the
// declared one by more than the configured tolerance. Items without declared
// dimensions always mismatch once decoded.
func (e *Engine) Mismatch(in Input, decodedWidth, decodedHeight int) bool {
	if decodedWidth <= 0 || decodedHeight <= 0 {
		return false
	}
	decoded := float64(decodedHeight) / float64(decodedWidth)
	if !finitePositive(in.Width) || !finitePositive(in.Height) {
		return true
	}
	declared := in.Height / in.Width
	return math.Abs(decoded-declared)/declared > e.cfg.AspectTolerance
}

// Slots returns a copy of the current slots
func (e *Engine) Slots() []Slot {
	return append([]Slot(nil), e.slots...)
}

// Heights returns a copy of the column-height vector
func (e *Engine) Heights() []float64 {
	return append([]float64(nil), e.heights...)
}

// ContentHeight is the height of the tallest column without its trailing gap
func (e *Engine) ContentHeight() float64 {
	max := 0.0
	for _, h := range e.heights {
		if h > max {
			max = h
		}
	}
	if max > 0 {
		max -= e.cfg.Gap
	}
	return math.Max(0, max)
}

func (e *Engine) Generation() uint64 {
	return e.generation
}

func (e *Engine) ColumnCount() int {
	return e.columns
}

func (e *Engine) ColumnWidth() float64 {
	return e.colWidth
}

func (e *Engine) Width() float64 {
	return e.width
}

// Restore installs a previously computed layout as a new generation
func (e *Engine) Restore(width float64, slots []Slot, heights []float64, signature uint64) {
	e.generation++
	e.signature = signature
	e.width = width
	e.columns = len(heights)
	e.colWidth = columnWidth(width, e.columns, e.cfg.Gap)
	e.heights = append([]float64(nil), heights...)
	e.slots = make([]Slot, len(slots))
	for i, s := range slots {
		s.Generation = e.generation
		e.slots[i] = s
	}
}

func columnWidth(width float64, columns int, gap float64) float64 {
	w := (width - gap*float64(columns-1)) / float64(columns)
	if !finitePositive(w) {
		return 0
	}
	return w
}

func shortest(heights []float64) int {
	best := 0
	for i := 1; i < len(heights); i++ {
		if heights[i] < heights[best] {
			best = i
		}
	}
	return best
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

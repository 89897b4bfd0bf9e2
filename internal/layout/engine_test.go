package layout

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/ST2Projects/media-grid/internal/clock"
	"github.com/ST2Projects/media-grid/internal/config"
)

func testGrid(gap float64) config.GridConfig {
	cfg := config.Default().Grid
	cfg.Gap = gap
	return cfg
}

func squares(n int) []Input {
	items := make([]Input, n)
	for i := range items {
		items[i] = Input{ID: fmt.Sprintf("item-%d", i), Width: 100, Height: 100}
	}
	return items
}

func spread(heights []float64) float64 {
	min, max := math.Inf(1), math.Inf(-1)
	for _, h := range heights {
		min = math.Min(min, h)
		max = math.Max(max, h)
	}
	return max - min
}

func TestColumns(t *testing.T) {
	bps := config.Default().Grid.Breakpoints
	tests := []struct {
		width float64
		want  int
	}{
		{0, 2},
		{599, 2},
		{600, 3},
		{899, 3},
		{900, 4},
		{1200, 5},
		{1599, 5},
		{1600, 6},
		{4000, 6},
	}
	for _, tt := range tests {
		if got := Columns(tt.width, bps); got != tt.want {
			t.Errorf("Columns(%v) = %d, want %d", tt.width, got, tt.want)
		}
	}
	if got := Columns(500, nil); got != 1 {
		t.Errorf("Columns() without breakpoints = %d, want 1", got)
	}
}

func TestFullIsIdempotent(t *testing.T) {
	e := NewEngine(testGrid(8))
	items := squares(37)
	items[5].Height = 350
	items[9] = Input{ID: "unknown"}

	first := e.Full(1000, items)
	second := e.Full(1000, items)
	if len(first) != len(second) {
		t.Fatalf("slot counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("slot %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}

	items[3].Height = 200
	third := e.Full(1000, items)
	if third[0].Generation == first[0].Generation {
		t.Errorf("changed inputs kept generation %d", first[0].Generation)
	}
}

func TestColumnBalance(t *testing.T) {
	tests := []struct {
		name  string
		width float64
		gap   float64
		n     int
		cols  int
	}{
		{name: "50 squares over 3 columns", width: 600, gap: 0, n: 50, cols: 3},
		{name: "50 squares over 3 columns with gap", width: 600, gap: 8, n: 50, cols: 3},
		{name: "101 squares over 6 columns", width: 1800, gap: 4, n: 101, cols: 6},
		{name: "fewer items than columns", width: 1600, gap: 0, n: 4, cols: 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(testGrid(tt.gap))
			slots := e.Full(tt.width, squares(tt.n))
			if e.ColumnCount() != tt.cols || len(e.Heights()) != tt.cols {
				t.Fatalf("columns = %d, heights = %d, want %d", e.ColumnCount(), len(e.Heights()), tt.cols)
			}
			itemHeight := slots[0].Height
			if d := spread(e.Heights()); d > itemHeight+tt.gap+1e-9 {
				t.Errorf("column spread = %v, want <= %v", d, itemHeight+tt.gap)
			}
			if tt.gap == 0 {
				if d := spread(e.Heights()); d > itemHeight {
					t.Errorf("column spread = %v, want <= one item height %v", d, itemHeight)
				}
			}
		})
	}
}

func TestPlacementShortestColumnLowestIndex(t *testing.T) {
	e := NewEngine(testGrid(10))
	items := []Input{
		{ID: "a", Width: 100, Height: 200},
		{ID: "b", Width: 100, Height: 100},
		{ID: "c", Width: 100, Height: 100},
		{ID: "d", Width: 100, Height: 100},
	}
	// 620 wide: 3 columns of 200
	slots := e.Full(620, items)

	wantCols := []int{0, 1, 2, 1}
	for i, s := range slots {
		if s.Column != wantCols[i] {
			t.Errorf("slot %d column = %d, want %d", i, s.Column, wantCols[i])
		}
		if s.Width != 200 {
			t.Errorf("slot %d width = %v, want 200", i, s.Width)
		}
	}
	if slots[1].Left != 210 || slots[2].Left != 420 {
		t.Errorf("lefts = %v, %v, want 210, 420", slots[1].Left, slots[2].Left)
	}
	if slots[3].Top != 210 {
		t.Errorf("d top = %v, want 200 + gap", slots[3].Top)
	}
}

func TestEstimateHeight(t *testing.T) {
	e := NewEngine(testGrid(0))
	e.Full(600, nil) // 3 columns of 200

	tests := []struct {
		name string
		in   Input
		want float64
	}{
		{"declared dimensions", Input{Width: 400, Height: 300}, 150},
		{"measured when undeclared", Input{Measured: 333}, 333},
		{"default when nothing known", Input{}, 240},
		{"tall item clamped", Input{Width: 10, Height: 5000}, 2000},
		{"nan width", Input{Width: math.NaN(), Height: 100}, 240},
		{"negative height", Input{Width: 100, Height: -50}, 240},
		{"infinite height", Input{Width: 100, Height: math.Inf(1)}, 240},
		{"declared wins over measured", Input{Width: 200, Height: 200, Measured: 999}, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.EstimateHeight(tt.in)
			if got != tt.want {
				t.Errorf("EstimateHeight() = %v, want %v", got, tt.want)
			}
			if math.IsNaN(got) || got <= 0 {
				t.Errorf("EstimateHeight() produced invalid geometry %v", got)
			}
		})
	}
}

func TestAppendMatchesFull(t *testing.T) {
	items := squares(30)
	items[7].Height = 180
	items[20] = Input{ID: "measured", Measured: 90}

	full := NewEngine(testGrid(8))
	want := full.Full(900, items)

	inc := NewEngine(testGrid(8))
	inc.Full(900, items[:12])
	gen := inc.Generation()
	added := inc.Append(items[12:])
	if len(added) != 18 {
		t.Fatalf("Append() returned %d slots, want 18", len(added))
	}
	if inc.Generation() != gen {
		t.Errorf("Append() changed generation")
	}

	got := inc.Slots()
	for i := range want {
		w, g := want[i], got[i]
		if w.Column != g.Column || w.Top != g.Top || w.Left != g.Left || w.Height != g.Height {
			t.Errorf("slot %d = %+v, want %+v", i, g, w)
		}
	}
}

func TestMismatch(t *testing.T) {
	e := NewEngine(testGrid(8))
	declared := Input{Width: 100, Height: 100}
	tests := []struct {
		name string
		in   Input
		w, h int
		want bool
	}{
		{"exact", declared, 200, 200, false},
		{"within tolerance", declared, 100, 101, false},
		{"beyond tolerance", declared, 100, 103, true},
		{"undeclared", Input{}, 100, 50, true},
		{"nothing decoded", declared, 0, 0, false},
	}
	for _, tt := range tests {
		if got := e.Mismatch(tt.in, tt.w, tt.h); got != tt.want {
			t.Errorf("%s: Mismatch() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestMemo(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	m := NewMemo(clk, 30*time.Second)
	items := squares(5)
	sig := Signature(items)

	e := NewEngine(testGrid(8))
	slots := e.Full(900, items)
	m.Put(900, e.ColumnCount(), sig, slots, e.Heights())

	got, heights, ok := m.Get(900, 4, sig)
	if !ok || len(got) != 5 || len(heights) != 4 {
		t.Fatalf("Get() = %d slots, %d heights, %v", len(got), len(heights), ok)
	}
	if _, _, ok := m.Get(1200, 4, sig); ok {
		t.Errorf("Get() hit for another width")
	}

	items[2].Height = 50
	if Signature(items) == sig {
		t.Errorf("Signature() unchanged after a dimension change")
	}

	clk.Advance(31 * time.Second)
	if _, _, ok := m.Get(900, 4, sig); ok {
		t.Errorf("Get() returned an expired layout")
	}
	hits, misses := m.Hits()
	if hits != 1 || misses != 2 {
		t.Errorf("Hits() = %d, %d, want 1, 2", hits, misses)
	}
}

func TestRestore(t *testing.T) {
	e := NewEngine(testGrid(8))
	slots := e.Full(900, squares(9))
	heights := e.Heights()

	other := NewEngine(testGrid(8))
	other.Restore(900, slots, heights, Signature(squares(9)))
	if other.ColumnCount() != 4 || other.ContentHeight() != e.ContentHeight() {
		t.Errorf("restored columns = %d, content = %v", other.ColumnCount(), other.ContentHeight())
	}
	if other.Slots()[0].Generation != other.Generation() {
		t.Errorf("restored slot generation = %d, want %d", other.Slots()[0].Generation, other.Generation())
	}
}

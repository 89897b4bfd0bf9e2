package visibility

import (
	"testing"

	"github.com/ST2Projects/media-grid/internal/view"
)

func TestRatio(t *testing.T) {
	tests := []struct {
		name string
		rect view.Rect
		want float64
	}{
		{"fully inside", view.Rect{Top: 100, Height: 100}, 1},
		{"half inside at bottom", view.Rect{Top: 950, Height: 100}, 0.5},
		{"above zone", view.Rect{Top: -300, Height: 100}, 0},
		{"touching edge", view.Rect{Top: 1000, Height: 100}, 0},
		{"zero height inside", view.Rect{Top: 500}, 1},
		{"zero height outside", view.Rect{Top: 2000}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Ratio(tt.rect, 0, 1000); got != tt.want {
				t.Errorf("Ratio() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestViewportReportsNewAndFlipped(t *testing.T) {
	c := newContainerWithContent(t)
	near := c.CreateNode("near")
	near.SetRect(view.Rect{Top: 100, Height: 200})
	margin := c.CreateNode("margin")
	margin.SetRect(view.Rect{Top: 700, Height: 200}) // inside the 600px pre-fetch margin
	far := c.CreateNode("far")
	far.SetRect(view.Rect{Top: 3000, Height: 200})

	var batches [][]Entry
	v := NewViewport(c, func(entries []Entry) { batches = append(batches, entries) }, Options{Margin: 600, Threshold: 0.01})
	for _, n := range []*view.Node{near, margin, far} {
		v.Observe(n)
	}

	v.Check()
	if len(batches) != 1 || len(batches[0]) != 3 {
		t.Fatalf("first Check() batches = %v, want one batch of 3", batches)
	}
	want := map[string]bool{"near": true, "margin": true, "far": false}
	for _, e := range batches[0] {
		if e.Intersecting != want[e.Node.ItemID()] {
			t.Errorf("%s intersecting = %v, want %v", e.Node.ItemID(), e.Intersecting, want[e.Node.ItemID()])
		}
	}

	v.Check()
	if len(batches) != 1 {
		t.Errorf("unchanged Check() reported %v", batches[1:])
	}

	c.ScrollTo(2800)
	v.Check()
	if len(batches) != 2 {
		t.Fatalf("Check() after scroll produced %d batches, want 2", len(batches))
	}
	flipped := map[string]bool{}
	for _, e := range batches[1] {
		flipped[e.Node.ItemID()] = e.Intersecting
	}
	if len(flipped) != 3 || flipped["near"] || flipped["margin"] || !flipped["far"] {
		t.Errorf("flipped = %v, want near and margin out, far in", flipped)
	}

	v.Unobserve(far)
	v.Disconnect()
	if v.Observed() != 0 {
		t.Errorf("Observed() = %d after Disconnect", v.Observed())
	}
}

func newContainerWithContent(t *testing.T) *view.Container {
	t.Helper()
	c := view.NewContainer(800, 400)
	c.SetContentHeight(5000)
	return c
}

func TestManualEmitsOnlyObserved(t *testing.T) {
	c := view.NewContainer(800, 600)
	a := c.CreateNode("a")
	b := c.CreateNode("b")

	var got []Entry
	m := NewManual(func(entries []Entry) { got = append(got, entries...) })
	m.Observe(a)

	m.Emit(Entry{Node: a, Intersecting: true, Ratio: 1}, Entry{Node: b, Intersecting: true, Ratio: 1})
	if len(got) != 1 || got[0].Node != a {
		t.Errorf("Emit() delivered %v, want only a", got)
	}

	m.Unobserve(a)
	m.Emit(Entry{Node: a, Intersecting: true})
	if len(got) != 1 {
		t.Errorf("Emit() after Unobserve delivered %d entries", len(got)-1)
	}
	if m.IsObserved(a) {
		t.Errorf("a still observed")
	}
}

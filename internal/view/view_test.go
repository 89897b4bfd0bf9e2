package view

import (
	"testing"
)

func TestRemoveNodeDisconnectsAndNotifies(t *testing.T) {
	c := NewContainer(800, 600)
	n := c.CreateNode("item-1")

	notified := 0
	n.On(EventDisconnect, func(ev Event) {
		if ev.Node != n {
			t.Errorf("event node = %v, want %v", ev.Node, n)
		}
		notified++
	})

	c.RemoveNode(n)
	c.RemoveNode(n)

	if n.Connected() {
		t.Errorf("node still connected after RemoveNode")
	}
	if notified != 1 {
		t.Errorf("disconnect listener called %d times, want 1", notified)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestClearSourceOnlyMatchingIdentity(t *testing.T) {
	c := NewContainer(800, 600)
	n := c.CreateNode("item-1")
	n.SetSource(7)

	if n.ClearSource(3) {
		t.Errorf("ClearSource(3) = true with source 7")
	}
	if n.Source() != 7 {
		t.Errorf("Source() = %d, want 7", n.Source())
	}
	if !n.ClearSource(7) {
		t.Errorf("ClearSource(7) = false with source 7")
	}
	if n.Source() != 0 {
		t.Errorf("Source() = %d after clear, want 0", n.Source())
	}
}

func TestScrollToClampsAndNotifies(t *testing.T) {
	c := NewContainer(800, 600)
	c.SetContentHeight(2000)

	var got []float64
	unsubscribe := c.OnScroll(func(vp Viewport) {
		got = append(got, vp.ScrollTop)
	})

	c.ScrollTo(500)
	c.ScrollTo(5000)
	c.ScrollTo(-10)
	unsubscribe()
	c.ScrollTo(100)

	want := []float64{500, 1400, 0}
	if len(got) != len(want) {
		t.Fatalf("scroll notifications = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("notification %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestNodesKeepsInsertionOrder(t *testing.T) {
	c := NewContainer(800, 600)
	a := c.CreateNode("a")
	b := c.CreateNode("b")
	d := c.CreateNode("d")
	c.RemoveNode(b)

	nodes := c.Nodes()
	if len(nodes) != 2 || nodes[0] != a || nodes[1] != d {
		t.Errorf("Nodes() = %v, want [a d]", nodes)
	}
}

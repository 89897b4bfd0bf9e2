package queue

import (
	"testing"
	"time"

	"github.com/ST2Projects/media-grid/internal/config"
)

func popAll(q *Queue) []string {
	var out []string
	for {
		e, ok := q.Pop()
		if !ok {
			return out
		}
		out = append(out, e.ItemID)
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestQueueOrdering(t *testing.T) {
	now := time.Unix(0, 0)
	tests := []struct {
		name string
		ops  func(q *Queue)
		want []string
	}{
		{
			name: "closest first",
			ops: func(q *Queue) {
				q.Push("far", 900, now)
				q.Push("near", 10, now)
				q.Push("mid", 300, now)
			},
			want: []string{"near", "mid", "far"},
		},
		{
			name: "ties are fifo",
			ops: func(q *Queue) {
				for _, id := range []string{"a", "b", "c", "d"} {
					q.Push(id, 100, now)
				}
			},
			want: []string{"a", "b", "c", "d"},
		},
		{
			name: "re-push updates priority and keeps sequence",
			ops: func(q *Queue) {
				q.Push("a", 100, now)
				q.Push("b", 50, now)
				q.Push("c", 50, now)
				q.Push("a", 50, now)
			},
			want: []string{"a", "b", "c"},
		},
		{
			name: "removed entries are skipped",
			ops: func(q *Queue) {
				q.Push("a", 1, now)
				q.Push("b", 2, now)
				q.Push("c", 3, now)
				q.Remove("b")
			},
			want: []string{"a", "c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := New()
			tt.ops(q)
			if got := popAll(q); !equal(got, tt.want) {
				t.Errorf("pop order = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQueueDedup(t *testing.T) {
	q := New()
	now := time.Unix(0, 0)
	for i := 0; i < 10; i++ {
		q.Push("same", float64(i), now)
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
	e, _ := q.Peek()
	if e.Priority != 9 || e.Seq != 1 {
		t.Errorf("entry = %+v, want priority 9 seq 1", e)
	}
	if q.Remove("missing") {
		t.Errorf("Remove(missing) = true")
	}
	q.Clear()
	if q.Contains("same") || q.Len() != 0 {
		t.Errorf("queue not cleared")
	}
}

func testThrottle() *Throttle {
	return NewThrottle(config.QueueConfig{
		BaseConcurrency: 4,
		MaxConcurrency:  12,
		BaseSpacing:     40 * time.Millisecond,
		MinSpacing:      0,
		FastVelocity:    3000,
		VelocityWindow:  250 * time.Millisecond,
	})
}

func TestThrottleBaselineAtRest(t *testing.T) {
	th := testThrottle()
	now := time.Unix(0, 0)

	if c := th.Ceiling(now); c != 4 {
		t.Errorf("Ceiling() = %d, want 4", c)
	}
	if s := th.Spacing(now); s != 40*time.Millisecond {
		t.Errorf("Spacing() = %v, want 40ms", s)
	}

	ok, _ := th.CanStart(now)
	if !ok {
		t.Fatalf("first start refused")
	}
	th.Started(now)

	ok, wait := th.CanStart(now.Add(10 * time.Millisecond))
	if ok || wait != 30*time.Millisecond {
		t.Errorf("CanStart() during spacing = %v, %v, want false, 30ms", ok, wait)
	}
	ok, _ = th.CanStart(now.Add(40 * time.Millisecond))
	if !ok {
		t.Errorf("CanStart() after spacing refused")
	}
}

func TestThrottleScalesWithVelocity(t *testing.T) {
	th := testThrottle()
	start := time.Unix(0, 0)

	// about 6000px/s: 600px every 100ms
	for i := 0; i <= 2; i++ {
		th.ObserveScroll(float64(i*600), start.Add(time.Duration(i)*100*time.Millisecond))
	}
	now := start.Add(200 * time.Millisecond)
	if v := th.Velocity(now); v < 5999 || v > 6001 {
		t.Errorf("Velocity() = %v, want about 6000", v)
	}
	if c := th.Ceiling(now); c != 12 {
		t.Errorf("Ceiling() while scrolling fast = %d, want 12", c)
	}
	if s := th.Spacing(now); s != 0 {
		t.Errorf("Spacing() while scrolling fast = %v, want 0", s)
	}

	rest := now.Add(time.Second)
	if c := th.Ceiling(rest); c != 4 {
		t.Errorf("Ceiling() at rest = %d, want 4", c)
	}
	if s := th.Spacing(rest); s != 40*time.Millisecond {
		t.Errorf("Spacing() at rest = %v, want 40ms", s)
	}
}

func TestThrottleCeiling(t *testing.T) {
	th := testThrottle()
	now := time.Unix(0, 0)

	for i := 0; i < 4; i++ {
		now = now.Add(time.Second)
		if ok, _ := th.CanStart(now); !ok {
			t.Fatalf("start %d refused below ceiling", i)
		}
		th.Started(now)
	}
	now = now.Add(time.Second)
	if ok, wait := th.CanStart(now); ok || wait != 0 {
		t.Errorf("CanStart() at ceiling = %v, %v, want false, 0", ok, wait)
	}
	th.Done()
	if ok, _ := th.CanStart(now); !ok {
		t.Errorf("CanStart() after Done refused")
	}
	if th.Peak() != 4 || th.InFlight() != 3 {
		t.Errorf("Peak() = %d, InFlight() = %d, want 4 and 3", th.Peak(), th.InFlight())
	}

	th.Done()
	th.Done()
	th.Done()
	th.Done()
	if th.InFlight() != 0 {
		t.Errorf("InFlight() = %d after extra Done, want 0", th.InFlight())
	}
}

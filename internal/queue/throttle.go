package queue

import (
	"math"
	"time"

	"github.com/ST2Projects/media-grid/internal/config"
)

type scrollSample struct {
	at     time.Time
	offset float64
}

// Throttle bounds concurrent fetches and spaces their starts. Recent scroll
// velocity raises the ceiling towards MaxConcurrency and shortens the spacing
// towards MinSpacing; at rest both fall back to baseline. It is not safe for
// concurrent use.
type Throttle struct {
	cfg       config.QueueConfig
	samples   []scrollSample
	inFlight  int
	peak      int
	lastStart time.Time
	started   bool
}

// NewThrottle creates a throttle from the queue section of the config
func NewThrottle(cfg config.QueueConfig) *Throttle {
	if cfg.BaseConcurrency < 1 {
		cfg.BaseConcurrency = 1
	}
	if cfg.MaxConcurrency < cfg.BaseConcurrency {
		cfg.MaxConcurrency = cfg.BaseConcurrency
	}
	if cfg.FastVelocity <= 0 {
		cfg.FastVelocity = 3000
	}
	if cfg.VelocityWindow <= 0 {
		cfg.VelocityWindow = 250 * time.Millisecond
	}
	return &Throttle{cfg: cfg}
}

// ObserveScroll records a scroll offset sample
func (t *Throttle) ObserveScroll(offset float64, now time.Time) {
	t.prune(now)
	t.samples = append(t.samples, scrollSample{at: now, offset: offset})
}

func (t *Throttle) prune(now time.Time) {
	cutoff := now.Add(-t.cfg.VelocityWindow)
	i := 0
	for i < len(t.samples) && t.samples[i].at.Before(cutoff) {
		i++
	}
	t.samples = t.samples[i:]
}

// Velocity returns the scroll speed in pixels per second over the sample window
func (t *Throttle) Velocity(now time.Time) float64 {
	t.prune(now)
	if len(t.samples) < 2 {
		return 0
	}
	dist := 0.0
	for i := 1; i < len(t.samples); i++ {
		dist += math.Abs(t.samples[i].offset - t.samples[i-1].offset)
	}
	dt := t.samples[len(t.samples)-1].at.Sub(t.samples[0].at).Seconds()
	if dt <= 0 {
		// a burst within one instant counts as full speed
		if dist > 0 {
			return t.cfg.FastVelocity
		}
		return 0
	}
	return dist / dt
}

func (t *Throttle) factor(now time.Time) float64 {
	return math.Min(1, t.Velocity(now)/t.cfg.FastVelocity)
}

// Ceiling returns the current concurrency limit
func (t *Throttle) Ceiling(now time.Time) int {
	extra := float64(t.cfg.MaxConcurrency-t.cfg.BaseConcurrency) * t.factor(now)
	return t.cfg.BaseConcurrency + int(math.Round(extra))
}

// Spacing returns the current minimum delay between two fetch starts
func (t *Throttle) Spacing(now time.Time) time.Duration {
	span := float64(t.cfg.BaseSpacing - t.cfg.MinSpacing)
	return t.cfg.BaseSpacing - time.Duration(span*t.factor(now))
}

// CanStart reports whether a fetch may start now. When only the spacing
// blocks it, wait is the remaining delay; a full ceiling returns zero wait
// since only a completion frees a slot.
func (t *Throttle) CanStart(now time.Time) (bool, time.Duration) {
	if t.inFlight >= t.Ceiling(now) {
		return false, 0
	}
	if t.started {
		if elapsed := now.Sub(t.lastStart); elapsed < t.Spacing(now) {
			return false, t.Spacing(now) - elapsed
		}
	}
	return true, 0
}

// Started records a fetch start
func (t *Throttle) Started(now time.Time) {
	t.inFlight++
	if t.inFlight > t.peak {
		t.peak = t.inFlight
	}
	t.lastStart = now
	t.started = true
}

// Done records a fetch completion or abort
func (t *Throttle) Done() {
	if t.inFlight > 0 {
		t.inFlight--
	}
}

func (t *Throttle) InFlight() int {
	return t.inFlight
}

// Peak returns the highest in-flight count observed
func (t *Throttle) Peak() int {
	return t.peak
}

// Reset forgets in-flight accounting and scroll history
func (t *Throttle) Reset() {
	t.samples = nil
	t.inFlight = 0
	t.started = false
}

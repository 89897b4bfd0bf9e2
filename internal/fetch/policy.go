package fetch

import (
	"math/rand/v2"
	"time"

	"github.com/ST2Projects/media-grid/internal/config"
)

// Policy holds the retry budgets and delays for every outcome
type Policy struct {
	FastRetryLimit int
	FastBase       time.Duration
	FastStep       time.Duration
	FastCap        time.Duration
	SlowRetryLimit int
	SlowInterval   time.Duration
	NotFoundLimit  int
	NotFoundStep   time.Duration
	NetworkLimit   int
	NetworkStep    time.Duration
	RateLimitMin   time.Duration
	RateLimitMax   time.Duration

	// Jitter returns a delay in [min, max]. Nil uses a seeded math/rand source.
	Jitter func(min, max time.Duration) time.Duration
}

// PolicyFromConfig builds a policy from the fetch section of the config
func PolicyFromConfig(cfg config.FetchConfig) Policy {
	return Policy{
		FastRetryLimit: cfg.FastRetryLimit,
		FastBase:       cfg.FastBase,
		FastStep:       cfg.FastStep,
		FastCap:        cfg.FastCap,
		SlowRetryLimit: cfg.SlowRetryLimit,
		SlowInterval:   cfg.SlowInterval,
		NotFoundLimit:  cfg.NotFoundLimit,
		NotFoundStep:   cfg.NotFoundStep,
		NetworkLimit:   cfg.NetworkLimit,
		NetworkStep:    cfg.NetworkStep,
		RateLimitMin:   cfg.RateLimitMin,
		RateLimitMax:   cfg.RateLimitMax,
	}
}

// DefaultPolicy returns the policy for a default configuration
func DefaultPolicy() Policy {
	return PolicyFromConfig(config.Default().Fetch)
}

// ProcessingDelay returns the wait before the retry following the n-th
// processing response (1-based) and false once both budgets are spent.
func (p Policy) ProcessingDelay(n int) (time.Duration, bool) {
	switch {
	case n <= p.FastRetryLimit:
		d := p.FastBase + time.Duration(n-1)*p.FastStep
		if p.FastCap > 0 && d > p.FastCap {
			d = p.FastCap
		}
		return d, true
	case n <= p.FastRetryLimit+p.SlowRetryLimit:
		return p.SlowInterval, true
	default:
		return 0, false
	}
}

// MaxProcessingRetries is the number of retries a perpetually processing
// thumbnail receives before it fails
func (p Policy) MaxProcessingRetries() int {
	return p.FastRetryLimit + p.SlowRetryLimit
}

func (p Policy) jitter() time.Duration {
	if p.Jitter != nil {
		return p.Jitter(p.RateLimitMin, p.RateLimitMax)
	}
	if p.RateLimitMax <= p.RateLimitMin {
		return p.RateLimitMin
	}
	return p.RateLimitMin + rand.N(p.RateLimitMax-p.RateLimitMin+1)
}

package backoff

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

const (
	DefaultMin    = 100 * time.Millisecond
	DefaultMax    = 10 * time.Second
	DefaultFactor = 2
)

// Backoff produces exponentially growing, optionally jittered, delays
// between reconnect attempts
type Backoff struct {
	mx       sync.Mutex
	min      time.Duration
	max      time.Duration
	jitter   float64
	factor   float64
	attempts float64
	rand     func() float64
}

type Options struct {
	Min    time.Duration
	Max    time.Duration
	Jitter float64
	Factor float64
}

func NewBackoff(opts *Options) *Backoff {
	if opts == nil {
		opts = &Options{}
	}

	min := DefaultMin
	if opts.Min > 0 {
		min = opts.Min
	}

	max := DefaultMax
	if opts.Max > 0 {
		max = opts.Max
	}

	if max < min {
		max = min
	}

	var factor float64 = DefaultFactor
	if opts.Factor > 1 {
		factor = opts.Factor
	}

	var jitter float64 = 0
	if opts.Jitter > 0 && opts.Jitter <= 1 {
		jitter = opts.Jitter
	}

	return &Backoff{
		min:      min,
		max:      max,
		factor:   factor,
		jitter:   jitter,
		attempts: 0,
		rand:     rand.Float64,
	}
}

func (b *Backoff) Attempts() int {
	b.mx.Lock()
	defer b.mx.Unlock()
	return int(b.attempts)
}

// Duration returns the delay for the next attempt and counts it.
// The first attempt waits min.
func (b *Backoff) Duration() time.Duration {
	b.mx.Lock()
	defer b.mx.Unlock()

	ns := float64(b.min) * math.Pow(b.factor, b.attempts)
	b.attempts = b.attempts + 1

	if b.jitter > 0 {
		r := b.rand()
		deviation := math.Floor(r * b.jitter * ns)
		if int(math.Floor(r*10))&1 == 0 {
			ns = ns - deviation
		} else {
			ns = ns + deviation
		}
	}

	return time.Duration(math.Min(ns, float64(b.max)))
}

func (b *Backoff) Reset() {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.attempts = 0
}

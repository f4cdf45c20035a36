package interval

import (
	"sync"
	"time"
)

// Interval implements a javascript like interval
type Interval struct {
	mx     sync.Mutex
	ticker *time.Ticker
	done   chan struct{}
}

// Reset restarts the ticker with a new period
// instead of canceling and recreating a new one. A cleared interval stays cleared.
func (i *Interval) Reset(timeout time.Duration) {
	i.mx.Lock()
	defer i.mx.Unlock()

	if i.Cleared() || timeout <= 0 {
		return
	}
	i.ticker.Reset(timeout)
}

// Clear stops the interval. It is safe to call from inside the handler
// and more than once.
func (i *Interval) Clear() {
	i.mx.Lock()
	defer i.mx.Unlock()

	if i.Cleared() {
		return
	}
	i.ticker.Stop()
	close(i.done)
}

// Cleared returns true once the interval has been cleared
func (i *Interval) Cleared() bool {
	select {
	case <-i.done:
		return true
	default:
		return false
	}
}

// SetInterval imitates the built-in javascript function. Handler
// invocations never overlap.
func SetInterval(handler func(i *Interval), timeout time.Duration) *Interval {
	i := &Interval{
		ticker: time.NewTicker(timeout),
		done:   make(chan struct{}),
	}

	go func() {
		for {
			select {
			case <-i.done:
				return

			case <-i.ticker.C:
				if i.Cleared() {
					return
				}
				handler(i)
			}
		}
	}()

	return i
}

// ClearInterval imitates the builtin javascript function
func ClearInterval(i *Interval) {
	i.Clear()
}

func SetTimeout(handler func(), timeout time.Duration) *Interval {
	return SetInterval(func(i *Interval) {
		i.Clear()
		handler()
	}, timeout)
}

// ClearTimeout imitates the builtin javascript function
func ClearTimeout(i *Interval) {
	i.Clear()
}

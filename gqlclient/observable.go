package gqlclient

import (
	"context"
	"sync"
)

// TeardownFunc releases whatever a producer acquired
type TeardownFunc func()

// Observer receives the events of one subscription. Every field is optional.
type Observer struct {
	Next     func(result *Result)
	Error    func(err error)
	Complete func()
}

// Observable is a lazy, cancellable sequence of results. The producer runs
// once per Subscribe call.
type Observable struct {
	producer func(e *Emitter) TeardownFunc
}

// NewObservable creates an observable from a producer
func NewObservable(producer func(e *Emitter) TeardownFunc) *Observable {
	return &Observable{producer: producer}
}

// ErrorObservable returns an observable that fails immediately
func ErrorObservable(err error) *Observable {
	return NewObservable(func(e *Emitter) TeardownFunc {
		e.Error(err)
		return nil
	})
}

// Subscribe starts the producer and delivers its events to observer
func (o *Observable) Subscribe(observer Observer) *Subscription {
	sub := &Subscription{
		observer: observer,
		done:     make(chan struct{}),
	}

	sub.setTeardown(o.producer(&Emitter{sub: sub}))
	return sub
}

// Subscription is the handle of one running producer
type Subscription struct {
	observer Observer
	emitMx   sync.Mutex
	mx       sync.Mutex
	closed   bool
	teardown TeardownFunc
	done     chan struct{}
}

// Unsubscribe stops delivery and runs the teardown. Only the first call does anything.
func (s *Subscription) Unsubscribe() {
	if td, _ := s.close(); td != nil {
		td()
	}
}

// Closed returns true once the subscription has completed, errored or been unsubscribed
func (s *Subscription) Closed() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.closed
}

// Done is closed when the subscription closes
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// close marks the subscription closed and hands back the teardown to run.
// first is false when it was already closed.
func (s *Subscription) close() (td TeardownFunc, first bool) {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.closed {
		return nil, false
	}

	s.closed = true
	close(s.done)
	td = s.teardown
	s.teardown = nil
	return td, true
}

func (s *Subscription) setTeardown(td TeardownFunc) {
	if td == nil {
		return
	}

	s.mx.Lock()
	if !s.closed {
		s.teardown = td
		s.mx.Unlock()
		return
	}
	s.mx.Unlock()

	// closed before the producer returned
	td()
}

// drain waits for an in-flight delivery to return
func (s *Subscription) drain() {
	s.emitMx.Lock()
	s.emitMx.Unlock()
}

// Emitter is the producer side of a subscription. Calls after Error or
// Complete, or after unsubscribe, are ignored.
type Emitter struct {
	sub *Subscription
}

// Next delivers a result
func (e *Emitter) Next(result *Result) {
	e.sub.emitMx.Lock()
	defer e.sub.emitMx.Unlock()

	if e.sub.Closed() {
		return
	}

	if e.sub.observer.Next != nil {
		e.sub.observer.Next(result)
	}
}

// Error terminates the subscription with err
func (e *Emitter) Error(err error) {
	e.sub.emitMx.Lock()
	td, first := e.sub.close()
	if !first {
		e.sub.emitMx.Unlock()
		return
	}

	if e.sub.observer.Error != nil {
		e.sub.observer.Error(err)
	}
	e.sub.emitMx.Unlock()

	if td != nil {
		td()
	}
}

// Complete terminates the subscription normally
func (e *Emitter) Complete() {
	e.sub.emitMx.Lock()
	td, first := e.sub.close()
	if !first {
		e.sub.emitMx.Unlock()
		return
	}

	if e.sub.observer.Complete != nil {
		e.sub.observer.Complete()
	}
	e.sub.emitMx.Unlock()

	if td != nil {
		td()
	}
}

// Closed reports whether the consumer is still listening
func (e *Emitter) Closed() bool {
	return e.sub.Closed()
}

// First subscribes and returns the first result. The subscription is
// released before returning.
func (o *Observable) First(ctx context.Context) (*Result, error) {
	type outcome struct {
		result *Result
		err    error
	}

	ch := make(chan outcome, 1)
	send := func(oc outcome) {
		select {
		case ch <- oc:
		default:
		}
	}

	sub := o.Subscribe(Observer{
		Next:     func(result *Result) { send(outcome{result: result}) },
		Error:    func(err error) { send(outcome{err: err}) },
		Complete: func() { send(outcome{err: ErrNoResult}) },
	})
	defer sub.Unsubscribe()

	select {
	case oc := <-ch:
		return oc.result, oc.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Results adapts the observable to channels. The result channel closes when
// the sequence ends or ctx is done; a terminal error is sent on the error
// channel first. Delivery blocks until the receiver takes each result.
func (o *Observable) Results(ctx context.Context) (<-chan *Result, <-chan error) {
	results := make(chan *Result)
	errs := make(chan error, 1)

	sub := o.Subscribe(Observer{
		Next: func(result *Result) {
			select {
			case results <- result:
			case <-ctx.Done():
			}
		},
		Error: func(err error) {
			errs <- err
		},
	})

	go func() {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
		case <-sub.Done():
		}

		sub.drain()
		close(results)
		close(errs)
	}()

	return results, errs
}

package cable

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

// Subscriptions is the set of subscriptions of a consumer. Several
// subscriptions may share an identifier; the server sees them as one.
type Subscriptions struct {
	consumer *Consumer
	mx       sync.RWMutex
	subs     []*Subscription
}

func newSubscriptions(c *Consumer) *Subscriptions {
	return &Subscriptions{consumer: c}
}

// Create adds a subscription and asks the server for it. The consumer's
// connection is opened if needed.
func (s *Subscriptions) Create(params Params, handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, errors.New("subscription handler is required")
	}

	if params.Channel() == "" {
		return nil, errors.New("subscription params must name a channel")
	}

	identifier, err := params.identifier()
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode subscription identifier")
	}

	sub := &Subscription{
		consumer:   s.consumer,
		identifier: identifier,
		params:     params,
		handler:    handler,
		log:        s.consumer.log.WithField("identifier", identifier),
	}

	if err := s.consumer.checkOpenable(); err != nil {
		return nil, err
	}

	s.mx.Lock()
	s.subs = append(s.subs, sub)
	s.mx.Unlock()

	if err := s.subscribe(sub); err != nil {
		// the welcome reload subscribes once the connection is up
		sub.log.WithError(err).Debugf("deferring subscribe command")
		s.consumer.ensureActiveConnection()
	}

	return sub, nil
}

// Len returns the number of subscriptions
func (s *Subscriptions) Len() int {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return len(s.subs)
}

// FindAll returns the subscriptions with identifier
func (s *Subscriptions) FindAll(identifier string) []*Subscription {
	s.mx.RLock()
	defer s.mx.RUnlock()

	var found []*Subscription
	for _, sub := range s.subs {
		if sub.identifier == identifier {
			found = append(found, sub)
		}
	}
	return found
}

func (s *Subscriptions) all() []*Subscription {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return append([]*Subscription(nil), s.subs...)
}

func (s *Subscriptions) subscribe(sub *Subscription) error {
	return s.consumer.send(OutgoingCommand{
		Command:    CmdSubscribe,
		Identifier: sub.identifier,
	})
}

// forget drops sub and reports whether other subscriptions share its identifier
func (s *Subscriptions) forget(sub *Subscription) (found, shared bool) {
	s.mx.Lock()
	defer s.mx.Unlock()

	kept := s.subs[:0]
	for _, existing := range s.subs {
		switch {
		case existing == sub:
			found = true
		case existing.identifier == sub.identifier:
			shared = true
			kept = append(kept, existing)
		default:
			kept = append(kept, existing)
		}
	}

	for i := len(kept); i < len(s.subs); i++ {
		s.subs[i] = nil
	}
	s.subs = kept
	return
}

// remove forgets sub and unsubscribes on the server when it was the last
// subscription for the identifier
func (s *Subscriptions) remove(sub *Subscription) error {
	found, shared := s.forget(sub)
	if !found || shared {
		return nil
	}

	err := s.consumer.send(OutgoingCommand{
		Command:    CmdUnsubscribe,
		Identifier: sub.identifier,
	})
	if err != nil && errors.Cause(err) != ErrNotConnected {
		return err
	}

	sub.log.Debugf("unsubscribed")
	return nil
}

// reload subscribes every identifier again after a welcome
func (s *Subscriptions) reload() {
	seen := map[string]struct{}{}
	for _, sub := range s.all() {
		if _, ok := seen[sub.identifier]; ok {
			continue
		}
		seen[sub.identifier] = struct{}{}

		if err := s.subscribe(sub); err != nil {
			sub.log.WithError(err).Warnf("failed to resubscribe")
		}
	}
}

func (s *Subscriptions) confirm(identifier string) {
	for _, sub := range s.FindAll(identifier) {
		sub.log.Debugf("subscription confirmed")
		sub.handler.Connected(sub)
	}
}

func (s *Subscriptions) reject(identifier string) {
	for _, sub := range s.FindAll(identifier) {
		s.forget(sub)
		sub.log.Warnf("subscription rejected")
		if r, ok := sub.handler.(Rejecter); ok {
			r.Rejected(sub)
		}
	}
}

func (s *Subscriptions) received(identifier string, message json.RawMessage) {
	subs := s.FindAll(identifier)
	if len(subs) == 0 {
		s.consumer.log.WithField("identifier", identifier).Debugf("message for unknown subscription")
		return
	}

	for _, sub := range subs {
		sub.handler.Received(sub, message)
	}
}

func (s *Subscriptions) disconnected(event DisconnectEvent) {
	for _, sub := range s.all() {
		sub.handler.Disconnected(sub, event)
	}
}

func (s *Subscriptions) clear() {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.subs = nil
}

package cable

import (
	"sync"

	"github.com/bhoriuchi/graphql-go-cable/logger"
	"github.com/pkg/errors"
)

// Subscription binds a handler to one channel identifier on a consumer
type Subscription struct {
	consumer   *Consumer
	identifier string
	params     Params
	handler    Handler
	log        *logger.LogWrapper

	unsubscribeOnce sync.Once
	unsubscribeErr  error
}

// Identifier returns the JSON identifier sent to the server
func (s *Subscription) Identifier() string {
	return s.identifier
}

// Params returns a copy of the subscription params
func (s *Subscription) Params() Params {
	p := make(Params, len(s.params))
	for k, v := range s.params {
		p[k] = v
	}
	return p
}

// Perform calls action on the server side channel
func (s *Subscription) Perform(action string, data map[string]interface{}) error {
	payload := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["action"] = action

	return s.Send(payload)
}

// Send transmits data to the server side channel
func (s *Subscription) Send(data map[string]interface{}) error {
	b, err := codec.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "failed to encode channel data")
	}

	return s.consumer.send(OutgoingCommand{
		Command:    CmdMessage,
		Identifier: s.identifier,
		Data:       string(b),
	})
}

// Unsubscribe removes the subscription from the consumer
func (s *Subscription) Unsubscribe() error {
	s.unsubscribeOnce.Do(func() {
		s.unsubscribeErr = s.consumer.subscriptions.remove(s)
	})
	return s.unsubscribeErr
}

package cable

import "encoding/json"

// Channel is the client side of one channel subscription
type Channel interface {
	// Identifier returns the identifier the subscription was created with
	Identifier() string

	// Perform invokes action on the server side channel with data
	Perform(action string, data map[string]interface{}) error

	// Unsubscribe removes the subscription. Only the first call sends a command.
	Unsubscribe() error
}

// Handler receives the events of a channel subscription. Methods are called
// from the consumer's read loop and never concurrently.
type Handler interface {
	// Connected is called each time the server confirms the subscription,
	// including after a reconnect
	Connected(ch Channel)

	// Disconnected is called when the connection carrying the subscription is lost
	Disconnected(ch Channel, event DisconnectEvent)

	// Received is called with every message broadcast to the subscription
	Received(ch Channel, message json.RawMessage)
}

// Rejecter is optionally implemented by handlers that want to know when the
// server refuses a subscription
type Rejecter interface {
	Rejected(ch Channel)
}

// HandlerFuncs builds a Handler from optional funcs
type HandlerFuncs struct {
	OnConnected    func(ch Channel)
	OnDisconnected func(ch Channel, event DisconnectEvent)
	OnReceived     func(ch Channel, message json.RawMessage)
	OnRejected     func(ch Channel)
}

func (h HandlerFuncs) Connected(ch Channel) {
	if h.OnConnected != nil {
		h.OnConnected(ch)
	}
}

func (h HandlerFuncs) Disconnected(ch Channel, event DisconnectEvent) {
	if h.OnDisconnected != nil {
		h.OnDisconnected(ch, event)
	}
}

func (h HandlerFuncs) Received(ch Channel, message json.RawMessage) {
	if h.OnReceived != nil {
		h.OnReceived(ch, message)
	}
}

func (h HandlerFuncs) Rejected(ch Channel) {
	if h.OnRejected != nil {
		h.OnRejected(ch)
	}
}

package cablelink

import (
	"encoding/json"
	"sync"

	"github.com/bhoriuchi/graphql-go-cable/cable"
	"github.com/bhoriuchi/graphql-go-cable/gqlclient"
	"github.com/bhoriuchi/graphql-go-cable/logger"
	jsoniter "github.com/json-iterator/go"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// payload is one message the server's action broadcasts
type payload struct {
	Result json.RawMessage `json:"result"`
	More   interface{}     `json:"more"`
}

// resultShape is only used to see which members a result carries
type resultShape struct {
	Data   json.RawMessage `json:"data"`
	Errors json.RawMessage `json:"errors"`
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// truthy follows the server's loose typing of the more flag
func truthy(v interface{}) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != ""
	default:
		return true
	}
}

// operationHandler is the channel handler of one operation. reconnecting
// belongs to the operation so concurrent operations do not see each other's
// disconnects.
type operationHandler struct {
	link    *Link
	op      *gqlclient.Operation
	emitter *gqlclient.Emitter
	log     *logger.LogWrapper

	mx           sync.Mutex
	reconnecting bool
}

func (h *operationHandler) Connected(ch cable.Channel) {
	h.mx.Lock()
	reconnected := h.reconnecting
	h.reconnecting = false
	h.mx.Unlock()

	if cb := h.link.connectedCallback(); cb != nil {
		cb(reconnected)
	}

	h.log.Debugf("channel connected, performing %s", h.link.actionName)
	if err := ch.Perform(h.link.actionName, h.link.actionPayload(h.op)); err != nil {
		h.log.WithError(err).Warnf("failed to perform %s", h.link.actionName)
	}
}

func (h *operationHandler) Disconnected(ch cable.Channel, event cable.DisconnectEvent) {
	if cb := h.link.disconnectedCallback(); cb != nil {
		cb()
	}

	h.mx.Lock()
	h.reconnecting = true
	h.mx.Unlock()

	h.log.
		WithField("willReconnect", event.WillReconnect).
		WithField("reason", event.Reason).
		Debugf("channel disconnected")
}

// Rejected fails the operation; the consumer has already dropped the subscription
func (h *operationHandler) Rejected(ch cable.Channel) {
	h.log.Warnf("channel subscription rejected")
	h.emitter.Error(ErrSubscriptionRejected)
}

func (h *operationHandler) Received(ch cable.Channel, message json.RawMessage) {
	var p payload
	if err := codec.Unmarshal(message, &p); err != nil {
		h.log.WithError(err).Debugf("received a payload that is not an object")
	} else if result := h.decodeResult(p.Result); result != nil {
		h.emitter.Next(result)
	}

	if !truthy(p.More) {
		h.log.Debugf("operation complete")
		h.emitter.Complete()
	}
}

// decodeResult returns nil for results carrying neither data nor errors
func (h *operationHandler) decodeResult(raw json.RawMessage) *gqlclient.Result {
	if !present(raw) {
		return nil
	}

	var shape resultShape
	if err := codec.Unmarshal(raw, &shape); err != nil {
		h.log.WithError(err).Debugf("dropping malformed result")
		return nil
	}

	if !present(shape.Data) && !present(shape.Errors) {
		h.log.Debugf("dropping result without data or errors")
		return nil
	}

	var result gqlclient.Result
	if err := codec.Unmarshal(raw, &result); err != nil {
		h.log.WithError(err).Debugf("dropping undecodable result")
		return nil
	}
	return &result
}

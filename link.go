// Package cablelink routes GraphQL operations over ActionCable. Each
// operation gets its own channel subscription on a shared consumer; results
// broadcast to that subscription are relayed until the server says no more
// are coming.
package cablelink

import (
	"encoding/hex"
	"sync"

	"github.com/bhoriuchi/graphql-go-cable/cable"
	"github.com/bhoriuchi/graphql-go-cable/gqlclient"
	"github.com/bhoriuchi/graphql-go-cable/logger"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrSubscriptionRejected is emitted when the server refuses an operation's channel subscription
var ErrSubscriptionRejected = errors.New("channel subscription rejected")

// ChannelClient creates channel subscriptions. *cable.Consumer implements it.
type ChannelClient interface {
	Subscribe(params cable.Params, handler cable.Handler) (cable.Channel, error)
}

// Link is a terminating gqlclient.Link. It never calls next.
type Link struct {
	client               ChannelClient
	channelName          string
	actionName           string
	connectionParams     map[string]interface{}
	connectionParamsFunc ConnectionParamsFunc
	channelIDFunc        func() string
	log                  *logger.LogWrapper

	callbackMx     sync.RWMutex
	onConnected    func(reconnected bool)
	onDisconnected func()
}

// New creates a link over client
func New(client ChannelClient, opts ...Option) *Link {
	o := &linkOptions{
		channelName:   DefaultChannelName,
		actionName:    DefaultActionName,
		channelIDFunc: NewChannelID,
	}
	for _, opt := range opts {
		opt(o)
	}

	return &Link{
		client:               client,
		channelName:          o.channelName,
		actionName:           o.actionName,
		connectionParams:     o.connectionParams,
		connectionParamsFunc: o.connectionParamsFunc,
		channelIDFunc:        o.channelIDFunc,
		onConnected:          o.onConnected,
		onDisconnected:       o.onDisconnected,
		log: logger.NewLogWrapper(o.logFunc, map[string]interface{}{
			"link":    "cable",
			"channel": o.channelName,
		}),
	}
}

// NewChannelID returns a hex encoded UUIDv7: a millisecond timestamp
// followed by random bits
func NewChannelID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return hex.EncodeToString(id[:])
}

// SetOnConnected replaces the connected callback
func (l *Link) SetOnConnected(f func(reconnected bool)) {
	l.callbackMx.Lock()
	defer l.callbackMx.Unlock()
	l.onConnected = f
}

// SetOnDisconnected replaces the disconnected callback
func (l *Link) SetOnDisconnected(f func()) {
	l.callbackMx.Lock()
	defer l.callbackMx.Unlock()
	l.onDisconnected = f
}

func (l *Link) connectedCallback() func(bool) {
	l.callbackMx.RLock()
	defer l.callbackMx.RUnlock()
	return l.onConnected
}

func (l *Link) disconnectedCallback() func() {
	l.callbackMx.RLock()
	defer l.callbackMx.RUnlock()
	return l.onDisconnected
}

// Request subscribes op to a fresh channel when the returned observable is
// subscribed. Unsubscribing, completion and a failed subscribe all release
// the channel subscription.
func (l *Link) Request(op *gqlclient.Operation, next gqlclient.NextLink) *gqlclient.Observable {
	return gqlclient.NewObservable(func(e *gqlclient.Emitter) gqlclient.TeardownFunc {
		channelID := l.channelIDFunc()
		log := l.log.
			WithField("channelId", channelID).
			WithField("operationName", op.OperationName)

		h := &operationHandler{
			link:    l,
			op:      op,
			emitter: e,
			log:     log,
		}

		ch, err := l.client.Subscribe(l.subscriptionParams(op, channelID), h)
		if err != nil {
			log.WithError(err).Errorf("failed to create channel subscription")
			e.Error(err)
			return nil
		}

		log.Debugf("created channel subscription")
		return func() {
			if err := ch.Unsubscribe(); err != nil {
				log.WithError(err).Warnf("failed to unsubscribe")
			}
		}
	})
}

// subscriptionParams merges the connection params over channel and
// channelId; colliding keys from the connection params win
func (l *Link) subscriptionParams(op *gqlclient.Operation, channelID string) cable.Params {
	params := cable.Params{
		"channel":   l.channelName,
		"channelId": channelID,
	}

	connectionParams := l.connectionParams
	if l.connectionParamsFunc != nil {
		connectionParams = l.connectionParamsFunc(op)
	}

	for k, v := range connectionParams {
		params[k] = v
	}
	return params
}

// actionPayload is the data performed on the channel once it is live
func (l *Link) actionPayload(op *gqlclient.Operation) map[string]interface{} {
	payload := map[string]interface{}{
		"query":         nil,
		"variables":     op.Variables,
		"operationName": op.OperationName,
	}

	if q := op.PrintedQuery(); q != nil {
		payload["query"] = *q
	}

	// persisted operation support
	if op.OperationID != "" {
		payload["operationId"] = op.OperationID
	}

	return payload
}

package cablelink

import (
	"github.com/bhoriuchi/graphql-go-cable/gqlclient"
	"github.com/bhoriuchi/graphql-go-cable/logger"
)

const (
	DefaultChannelName = "GraphqlChannel"
	DefaultActionName  = "execute"
)

// ConnectionParamsFunc produces the subscription params for one operation
type ConnectionParamsFunc func(op *gqlclient.Operation) map[string]interface{}

type Option func(opts *linkOptions)

type linkOptions struct {
	channelName          string
	actionName           string
	connectionParams     map[string]interface{}
	connectionParamsFunc ConnectionParamsFunc
	onConnected          func(reconnected bool)
	onDisconnected       func()
	channelIDFunc        func() string
	logFunc              logger.LogFunc
}

// WithChannelName sets the server side channel class
func WithChannelName(name string) Option {
	return func(opts *linkOptions) {
		if name != "" {
			opts.channelName = name
		}
	}
}

// WithActionName sets the channel action that executes operations
func WithActionName(name string) Option {
	return func(opts *linkOptions) {
		if name != "" {
			opts.actionName = name
		}
	}
}

// WithConnectionParams merges a static mapping into every subscription's params
func WithConnectionParams(params map[string]interface{}) Option {
	return func(opts *linkOptions) {
		opts.connectionParams = params
		opts.connectionParamsFunc = nil
	}
}

// WithConnectionParamsFunc computes the params per operation. It replaces
// any static mapping.
func WithConnectionParamsFunc(f ConnectionParamsFunc) Option {
	return func(opts *linkOptions) {
		opts.connectionParamsFunc = f
	}
}

// WithOnConnected is called every time an operation's subscription is
// confirmed. reconnected is true when the operation had been disconnected.
func WithOnConnected(f func(reconnected bool)) Option {
	return func(opts *linkOptions) {
		opts.onConnected = f
	}
}

// WithOnDisconnected is called when an operation's subscription loses its connection
func WithOnDisconnected(f func()) Option {
	return func(opts *linkOptions) {
		opts.onDisconnected = f
	}
}

// WithChannelIDFunc replaces the channel id generator
func WithChannelIDFunc(f func() string) Option {
	return func(opts *linkOptions) {
		if f != nil {
			opts.channelIDFunc = f
		}
	}
}

func WithLogFunc(l logger.LogFunc) Option {
	return func(opts *linkOptions) {
		opts.logFunc = l
	}
}

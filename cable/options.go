package cable

import (
	"net/http"
	"time"

	"github.com/bhoriuchi/graphql-go-cable/logger"
	"github.com/bhoriuchi/graphql-go-cable/utils/backoff"
	"github.com/gorilla/websocket"
)

const (
	DefaultStaleThreshold   = 6 * time.Second
	DefaultPollInterval     = 3 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

type Option func(opts *options)

type options struct {
	header         http.Header
	dialer         *websocket.Dialer
	logFunc        logger.LogFunc
	staleThreshold time.Duration
	pollInterval   time.Duration
	backoff        *backoff.Options
}

func defaultOptions() *options {
	return &options{
		header:         http.Header{},
		logFunc:        logger.NoopLogFunc,
		staleThreshold: DefaultStaleThreshold,
		pollInterval:   DefaultPollInterval,
		backoff: &backoff.Options{
			Min:    3 * time.Second,
			Max:    30 * time.Second,
			Factor: 2,
			Jitter: 0.15,
		},
	}
}

// WithHeader adds headers, such as cookies or an Origin, to the websocket handshake
func WithHeader(header http.Header) Option {
	return func(opts *options) {
		for k, v := range header {
			opts.header[k] = append(opts.header[k], v...)
		}
	}
}

// WithDialer sets the dialer. Its subprotocols are replaced with the ActionCable ones.
func WithDialer(d *websocket.Dialer) Option {
	return func(opts *options) {
		opts.dialer = d
	}
}

func WithLogFunc(l logger.LogFunc) Option {
	return func(opts *options) {
		if l != nil {
			opts.logFunc = l
		}
	}
}

// WithStaleThreshold sets how long the connection may go without a ping
// before it is considered dead
func WithStaleThreshold(d time.Duration) Option {
	return func(opts *options) {
		if d > 0 {
			opts.staleThreshold = d
		}
	}
}

// WithPollInterval sets how often the connection monitor checks a live connection
func WithPollInterval(d time.Duration) Option {
	return func(opts *options) {
		if d > 0 {
			opts.pollInterval = d
		}
	}
}

// WithBackoff sets the delays between reconnect attempts
func WithBackoff(o *backoff.Options) Option {
	return func(opts *options) {
		if o != nil {
			opts.backoff = o
		}
	}
}

func (o *options) newDialer() *websocket.Dialer {
	var d websocket.Dialer
	if o.dialer != nil {
		d = *o.dialer
	} else {
		d = *websocket.DefaultDialer
	}

	if d.HandshakeTimeout <= 0 {
		d.HandshakeTimeout = DefaultHandshakeTimeout
	}
	d.Subprotocols = Subprotocols()
	return &d
}

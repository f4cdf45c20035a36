// Package cable is an ActionCable consumer: one websocket to a cable server
// multiplexing any number of channel subscriptions, reconnecting on its own.
package cable

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/bhoriuchi/graphql-go-cable/logger"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

var (
	// ErrClosed is returned once Close has been called
	ErrClosed = errors.New("consumer is closed")

	// ErrNotConnected is returned when a command cannot be sent because the
	// connection is down or not yet welcomed
	ErrNotConnected = errors.New("consumer is not connected")

	// ErrUnsupportedProtocol is returned when the server refuses every offered subprotocol
	ErrUnsupportedProtocol = errors.New("server does not support the actioncable-v1-json protocol")
)

// Consumer is the client end of a cable connection
type Consumer struct {
	url           string
	opts          *options
	dialer        *websocket.Dialer
	log           *logger.LogWrapper
	subscriptions *Subscriptions

	mx      sync.Mutex
	conn    *connection
	last    *connection
	opening bool
	closed  bool
	monitor *monitor
}

// NewConsumer creates a consumer for the cable at rawURL. http and https
// urls are converted to ws and wss. Nothing is dialed until Open or the
// first subscription.
func NewConsumer(rawURL string, opts ...Option) (*Consumer, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	wsURL, err := createWebSocketURL(rawURL)
	if err != nil {
		return nil, err
	}

	c := &Consumer{
		url:    wsURL,
		opts:   o,
		dialer: o.newDialer(),
		log:    logger.NewLogWrapper(o.logFunc, map[string]interface{}{"url": wsURL}),
	}
	c.subscriptions = newSubscriptions(c)
	return c, nil
}

func createWebSocketURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Wrap(err, "invalid cable url")
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported cable url scheme %q", u.Scheme)
	}

	return u.String(), nil
}

// URL returns the websocket url
func (c *Consumer) URL() string {
	return c.url
}

// Subscriptions returns the consumer's subscriptions
func (c *Consumer) Subscriptions() *Subscriptions {
	return c.subscriptions
}

// Subscribe creates a subscription for params
func (c *Consumer) Subscribe(params Params, handler Handler) (Channel, error) {
	return c.subscriptions.Create(params, handler)
}

// Connected returns true when the connection is open and welcomed
func (c *Consumer) Connected() bool {
	conn := c.activeConnection()
	return conn != nil && conn.isWelcomed()
}

// Open dials the cable and starts the connection monitor. It does nothing
// when a connection is already open or being opened.
func (c *Consumer) Open(ctx context.Context) error {
	c.mx.Lock()
	if c.closed {
		c.mx.Unlock()
		return ErrClosed
	}

	if c.monitor == nil {
		c.monitor = newMonitor(c)
	}

	if c.conn != nil || c.opening {
		c.mx.Unlock()
		return nil
	}
	c.opening = true
	c.mx.Unlock()

	ws, rsp, err := c.dialer.DialContext(ctx, c.url, c.opts.header)
	if err != nil {
		c.mx.Lock()
		c.opening = false
		c.mx.Unlock()

		if rsp != nil {
			return errors.Wrapf(err, "failed to connect to cable (status: %d)", rsp.StatusCode)
		}
		return errors.Wrap(err, "failed to connect to cable")
	}

	if ws.Subprotocol() == UnsupportedSubprotocol {
		ws.Close()

		c.mx.Lock()
		c.opening = false
		c.stopMonitorLocked()
		c.mx.Unlock()

		c.log.Errorf("server does not support %s, giving up", Subprotocol)
		return ErrUnsupportedProtocol
	}

	c.mx.Lock()
	defer c.mx.Unlock()

	c.opening = false
	if c.closed {
		ws.Close()
		return ErrClosed
	}

	conn := newConnection(c, ws, c.last)
	c.conn = conn
	c.last = conn

	conn.log.Infof("connection opened")
	go conn.readLoop()
	return nil
}

// Close closes the connection for good. Subscriptions are told they will not
// reconnect and then dropped.
func (c *Consumer) Close() error {
	c.mx.Lock()
	if c.closed {
		c.mx.Unlock()
		return nil
	}

	c.closed = true
	c.stopMonitorLocked()
	conn := c.conn
	c.mx.Unlock()

	if conn != nil {
		conn.close("consumer closed", false)
		return nil
	}

	// nothing to report a disconnect through
	c.subscriptions.clear()
	return nil
}

// Reconnect drops the current connection; the monitor opens a new one
func (c *Consumer) Reconnect() {
	if conn := c.activeConnection(); conn != nil {
		conn.close("reconnect requested", true)
	}
}

func (c *Consumer) stopMonitorLocked() {
	if c.monitor != nil {
		c.monitor.stop()
		c.monitor = nil
	}
}

func (c *Consumer) activeConnection() *connection {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.conn
}

func (c *Consumer) isOpening() bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.opening
}

func (c *Consumer) checkOpenable() error {
	c.mx.Lock()
	defer c.mx.Unlock()

	if c.closed {
		return ErrClosed
	}
	return nil
}

// ensureActiveConnection opens the connection in the background when needed
func (c *Consumer) ensureActiveConnection() {
	c.mx.Lock()
	active := c.closed || c.conn != nil || c.opening
	c.mx.Unlock()

	if active {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.dialer.HandshakeTimeout)
		defer cancel()

		if err := c.Open(ctx); err != nil {
			c.log.WithError(err).Warnf("failed to open connection, the monitor will retry")
		}
	}()
}

func (c *Consumer) send(cmd OutgoingCommand) error {
	conn := c.activeConnection()
	if conn == nil || !conn.isWelcomed() {
		return ErrNotConnected
	}
	return conn.writeJSON(cmd)
}

func (c *Consumer) welcomed(conn *connection) {
	c.mx.Lock()
	m := c.monitor
	c.mx.Unlock()

	if m != nil {
		m.recordConnect()
	}
	conn.log.Debugf("welcomed")
}

// connectionClosed runs on the read loop of conn once it has ended
func (c *Consumer) connectionClosed(conn *connection) {
	reason, reconnect := conn.closeState()

	c.mx.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	if !reconnect {
		c.stopMonitorLocked()
	}
	closed := c.closed
	willReconnect := !closed && c.monitor != nil
	c.mx.Unlock()

	conn.log.WithField("reason", reason).Infof("connection closed")

	c.subscriptions.disconnected(DisconnectEvent{
		WillReconnect: willReconnect,
		Reason:        reason,
	})

	if closed {
		c.subscriptions.clear()
	}
}

// Header returns a copy of the handshake headers
func (c *Consumer) Header() http.Header {
	return c.opts.header.Clone()
}

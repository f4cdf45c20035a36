package cable

import (
	"sync"
	"time"

	"github.com/bhoriuchi/graphql-go-cable/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// WriteTimeout bounds every frame write
const WriteTimeout = 10 * time.Second

// connection is one websocket session of a consumer. A consumer replaces
// its connection on every reconnect.
type connection struct {
	id       string
	ws       *websocket.Conn
	consumer *Consumer
	log      *logger.LogWrapper
	prev     *connection

	writeMx   sync.Mutex
	stateMx   sync.RWMutex
	welcomed  bool
	openedAt  time.Time
	pingedAt  time.Time
	closeSet  bool
	reason    string
	reconnect bool

	closeOnce sync.Once
	done      chan struct{}
}

func newConnection(c *Consumer, ws *websocket.Conn, prev *connection) *connection {
	id := uuid.NewString()
	return &connection{
		id:        id,
		ws:        ws,
		consumer:  c,
		prev:      prev,
		log:       c.log.WithField("connectionId", id),
		openedAt:  time.Now(),
		reconnect: true,
		done:      make(chan struct{}),
	}
}

func (c *connection) isWelcomed() bool {
	c.stateMx.RLock()
	defer c.stateMx.RUnlock()
	return c.welcomed
}

// stale returns true when neither a welcome nor a ping arrived within threshold
func (c *connection) stale(threshold time.Duration) bool {
	c.stateMx.RLock()
	defer c.stateMx.RUnlock()

	last := c.openedAt
	if c.pingedAt.After(last) {
		last = c.pingedAt
	}
	return time.Since(last) > threshold
}

func (c *connection) recordPing() {
	c.stateMx.Lock()
	defer c.stateMx.Unlock()
	c.pingedAt = time.Now()
}

func (c *connection) recordWelcome() {
	c.stateMx.Lock()
	defer c.stateMx.Unlock()
	c.welcomed = true
	c.pingedAt = time.Now()
}

func (c *connection) setClose(reason string, reconnect bool) {
	c.stateMx.Lock()
	defer c.stateMx.Unlock()

	// only the first close sticks, even one without a reason
	if !c.closeSet {
		c.closeSet = true
		c.reason = reason
		c.reconnect = reconnect
	}
}

func (c *connection) closeState() (string, bool) {
	c.stateMx.RLock()
	defer c.stateMx.RUnlock()
	return c.reason, c.reconnect
}

func (c *connection) writeJSON(v interface{}) error {
	b, err := codec.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "failed to encode command")
	}

	c.writeMx.Lock()
	defer c.writeMx.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
		return errors.Wrap(err, "failed to write command")
	}

	c.log.Tracef("sent %s", b)
	return nil
}

// close asks the server for a normal closure and tears the socket down.
// The read loop notices and reports the disconnect.
func (c *connection) close(reason string, reconnect bool) {
	c.setClose(reason, reconnect)

	c.closeOnce.Do(func() {
		c.writeMx.Lock()
		c.ws.SetWriteDeadline(time.Now().Add(time.Second))
		c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
		c.writeMx.Unlock()
		c.ws.Close()
	})
}

func (c *connection) readLoop() {
	defer close(c.done)

	// handler events of the previous connection finish first
	if c.prev != nil {
		<-c.prev.done
		c.prev = nil
	}

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.setClose("closed by server", true)
			} else {
				c.setClose(err.Error(), true)
				c.log.WithError(err).Debugf("read failed")
			}
			break
		}

		c.log.Tracef("received %s", raw)

		var msg IncomingMessage
		if err := codec.Unmarshal(raw, &msg); err != nil {
			c.log.WithError(err).Warnf("dropping undecodable frame")
			continue
		}

		c.handle(msg)
	}

	c.ws.Close()
	c.consumer.connectionClosed(c)
}

func (c *connection) handle(msg IncomingMessage) {
	subs := c.consumer.subscriptions

	switch msg.Type {
	case MsgWelcome:
		c.recordWelcome()
		c.consumer.welcomed(c)
		subs.reload()

	case MsgDisconnect:
		c.log.WithField("reason", msg.Reason).Infof("server requested disconnect")
		c.close(msg.Reason, msg.AllowReconnect())

	case MsgPing:
		c.recordPing()

	case MsgConfirmSubscription:
		subs.confirm(msg.Identifier)

	case MsgRejectSubscription:
		subs.reject(msg.Identifier)

	case "":
		subs.received(msg.Identifier, msg.Message)

	default:
		c.log.Debugf("ignoring message of type %q", msg.Type)
	}
}

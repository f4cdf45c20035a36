// Package cableserver is a small ActionCable server. It speaks enough of the
// protocol to back integration tests and local development: NewServer runs it
// on a loopback listener, New returns it as an http.Handler.
package cableserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/bhoriuchi/graphql-go-cable/cable"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Config defines the behavior of a test server. Every hook is optional and is
// called from the connection's read loop.
type Config struct {
	// Authorize may refuse the websocket upgrade
	Authorize func(r *http.Request) bool
	// OnSubscribe decides whether a subscription is confirmed. Nil confirms all.
	OnSubscribe func(c *Conn, identifier string) bool
	// OnMessage receives the decoded data of message commands
	OnMessage func(c *Conn, identifier string, data map[string]interface{})
	// OnUnsubscribe is called for unsubscribe commands
	OnUnsubscribe func(c *Conn, identifier string)
	// OnClose is called once the connection's read loop exits
	OnClose func(c *Conn)
	// Subprotocols overrides the protocols the server accepts
	Subprotocols []string
	// PingInterval defaults to three seconds, like the Rails server
	PingInterval time.Duration
	// SkipWelcome keeps the server from welcoming new connections
	SkipWelcome bool
}

// ReceivedCommand is a command a client sent
type ReceivedCommand struct {
	Command    cable.Command
	Identifier string
	Data       map[string]interface{}
}

// Server is a cable server. NewServer starts it on httptest; New returns an
// http.Handler to mount elsewhere.
type Server struct {
	config   Config
	server   *httptest.Server
	upgrader websocket.Upgrader

	mx          sync.Mutex
	conns       map[*Conn]struct{}
	commands    []ReceivedCommand
	connections int
}

// NewServer starts a server on a local httptest listener
func NewServer(config Config) *Server {
	s := New(config)
	s.server = httptest.NewServer(s)
	return s
}

// New creates a server without starting a listener
func New(config Config) *Server {
	if config.PingInterval == 0 {
		config.PingInterval = 3 * time.Second
	}

	subprotocols := config.Subprotocols
	if subprotocols == nil {
		subprotocols = []string{cable.Subprotocol}
	}

	s := &Server{
		config: config,
		upgrader: websocket.Upgrader{
			Subprotocols: subprotocols,
			CheckOrigin:  func(r *http.Request) bool { return true },
		},
		conns: map[*Conn]struct{}{},
	}
	return s
}

// URL returns the ws:// url of a server started with NewServer
func (s *Server) URL() string {
	if s.server == nil {
		return ""
	}
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

// Close drops every connection and stops the listener if there is one
func (s *Server) Close() {
	s.Drop()
	if s.server != nil {
		s.server.Close()
	}
}

// Conns returns the open connections
func (s *Server) Conns() []*Conn {
	s.mx.Lock()
	defer s.mx.Unlock()

	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}

// ConnectionCount returns how many connections were ever accepted
func (s *Server) ConnectionCount() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.connections
}

// Commands returns every command received so far
func (s *Server) Commands() []ReceivedCommand {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]ReceivedCommand(nil), s.commands...)
}

// CommandsOf returns the received commands of one kind
func (s *Server) CommandsOf(cmd cable.Command) []ReceivedCommand {
	var found []ReceivedCommand
	for _, rc := range s.Commands() {
		if rc.Command == cmd {
			found = append(found, rc)
		}
	}
	return found
}

// Subscribed returns true when some connection holds a confirmed identifier
func (s *Server) Subscribed(identifier string) bool {
	for _, c := range s.Conns() {
		if c.Subscribed(identifier) {
			return true
		}
	}
	return false
}

// Broadcast transmits message to every connection subscribed to identifier
// and returns how many received it
func (s *Server) Broadcast(identifier string, message interface{}) int {
	n := 0
	for _, c := range s.Conns() {
		if c.Subscribed(identifier) && c.Transmit(identifier, message) == nil {
			n++
		}
	}
	return n
}

// Drop severs every connection without a close handshake
func (s *Server) Drop() {
	for _, c := range s.Conns() {
		c.ws.Close()
	}
}

// Disconnect sends a disconnect message to every connection and closes them
func (s *Server) Disconnect(reason string, reconnect bool) {
	for _, c := range s.Conns() {
		c.Send(map[string]interface{}{
			"type":      cable.MsgDisconnect,
			"reason":    reason,
			"reconnect": reconnect,
		})
		c.ws.Close()
	}
}

func (s *Server) record(rc ReceivedCommand) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.commands = append(s.commands, rc)
}

// ServeHTTP upgrades the request and serves the connection until it closes
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.config.Authorize != nil && !s.config.Authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &Conn{
		Request:       r,
		server:        s,
		ws:            ws,
		subscriptions: map[string]struct{}{},
		done:          make(chan struct{}),
	}

	s.mx.Lock()
	s.conns[c] = struct{}{}
	s.connections++
	s.mx.Unlock()

	if !s.config.SkipWelcome {
		c.Send(map[string]interface{}{"type": cable.MsgWelcome})
	}

	go c.pingLoop(s.config.PingInterval)
	c.readLoop()
}

// Conn is one server side connection
type Conn struct {
	// Request is the upgrade request
	Request *http.Request

	server        *Server
	ws            *websocket.Conn
	writeMx       sync.Mutex
	mx            sync.Mutex
	subscriptions map[string]struct{}
	done          chan struct{}
}

// Send writes any frame to the client
func (c *Conn) Send(v interface{}) error {
	b, err := codec.Marshal(v)
	if err != nil {
		return err
	}

	c.writeMx.Lock()
	defer c.writeMx.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(cable.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

// Transmit sends message to a subscription
func (c *Conn) Transmit(identifier string, message interface{}) error {
	return c.Send(map[string]interface{}{
		"identifier": identifier,
		"message":    message,
	})
}

// Subscribed returns true when identifier was confirmed on this connection
func (c *Conn) Subscribed(identifier string) bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	_, ok := c.subscriptions[identifier]
	return ok
}

// Close closes the connection
func (c *Conn) Close() error {
	return c.ws.Close()
}

func (c *Conn) pingLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case t := <-ticker.C:
			if err := c.Send(map[string]interface{}{"type": cable.MsgPing, "message": t.Unix()}); err != nil {
				return
			}
		}
	}
}

func (c *Conn) readLoop() {
	defer func() {
		close(c.done)
		c.ws.Close()

		c.server.mx.Lock()
		delete(c.server.conns, c)
		c.server.mx.Unlock()

		if c.server.config.OnClose != nil {
			c.server.config.OnClose(c)
		}
	}()

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var cmd cable.OutgoingCommand
		if err := codec.Unmarshal(raw, &cmd); err != nil {
			continue
		}

		rc := ReceivedCommand{Command: cmd.Command, Identifier: cmd.Identifier}
		if cmd.Data != "" {
			json.Unmarshal([]byte(cmd.Data), &rc.Data)
		}
		c.server.record(rc)
		c.handle(rc)
	}
}

func (c *Conn) handle(rc ReceivedCommand) {
	cfg := c.server.config

	switch rc.Command {
	case cable.CmdSubscribe:
		// a repeated subscribe is ignored, as Rails does
		if c.Subscribed(rc.Identifier) {
			return
		}

		if cfg.OnSubscribe != nil && !cfg.OnSubscribe(c, rc.Identifier) {
			c.Send(map[string]interface{}{"type": cable.MsgRejectSubscription, "identifier": rc.Identifier})
			return
		}

		c.mx.Lock()
		c.subscriptions[rc.Identifier] = struct{}{}
		c.mx.Unlock()
		c.Send(map[string]interface{}{"type": cable.MsgConfirmSubscription, "identifier": rc.Identifier})

	case cable.CmdUnsubscribe:
		c.mx.Lock()
		delete(c.subscriptions, rc.Identifier)
		c.mx.Unlock()

		if cfg.OnUnsubscribe != nil {
			cfg.OnUnsubscribe(c, rc.Identifier)
		}

	case cable.CmdMessage:
		if !c.Subscribed(rc.Identifier) {
			return
		}
		if cfg.OnMessage != nil {
			cfg.OnMessage(c, rc.Identifier, rc.Data)
		}
	}
}

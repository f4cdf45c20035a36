package cable

import (
	"encoding/json"

	jsoniter "github.com/json-iterator/go"
)

// codec sorts map keys so identifiers are stable
var codec = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// Subprotocol is the only ActionCable protocol the consumer speaks
	Subprotocol = "actioncable-v1-json"
	// UnsupportedSubprotocol is selected by servers that cannot serve the client's protocol
	UnsupportedSubprotocol = "actioncable-unsupported"
)

// Subprotocols returns the websocket subprotocols offered when dialing
func Subprotocols() []string {
	return []string{Subprotocol, UnsupportedSubprotocol}
}

// MessageType is the type of a server sent message
type MessageType string

const (
	MsgWelcome             MessageType = "welcome"
	MsgDisconnect          MessageType = "disconnect"
	MsgPing                MessageType = "ping"
	MsgConfirmSubscription MessageType = "confirm_subscription"
	MsgRejectSubscription  MessageType = "reject_subscription"
)

// Command is a client sent command
type Command string

const (
	CmdSubscribe   Command = "subscribe"
	CmdUnsubscribe Command = "unsubscribe"
	CmdMessage     Command = "message"
)

// disconnect reasons sent by the server
const (
	ReasonUnauthorized   = "unauthorized"
	ReasonInvalidRequest = "invalid_request"
	ReasonServerRestart  = "server_restart"
	ReasonRemote         = "remote"
)

// IncomingMessage is any frame the server sends. Frames without a type carry
// channel data for Identifier in Message.
type IncomingMessage struct {
	Type       MessageType     `json:"type,omitempty"`
	Identifier string          `json:"identifier,omitempty"`
	Message    json.RawMessage `json:"message,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Reconnect  *bool           `json:"reconnect,omitempty"`
}

// AllowReconnect reports whether a disconnect message permits reconnecting.
// The server omitting the flag means it does.
func (m IncomingMessage) AllowReconnect() bool {
	return m.Reconnect == nil || *m.Reconnect
}

// OutgoingCommand is a frame sent to the server. Data is itself a JSON
// encoded string.
type OutgoingCommand struct {
	Command    Command `json:"command"`
	Identifier string  `json:"identifier"`
	Data       string  `json:"data,omitempty"`
}

// Params are the subscription parameters. They must contain "channel".
type Params map[string]interface{}

// Channel returns the channel name
func (p Params) Channel() string {
	s, _ := p["channel"].(string)
	return s
}

// identifier encodes the params the way the server expects to receive and echo them
func (p Params) identifier() (string, error) {
	b, err := codec.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DisconnectEvent describes a lost connection
type DisconnectEvent struct {
	// WillReconnect is true when the consumer is going to try to reconnect
	WillReconnect bool
	Reason        string
}

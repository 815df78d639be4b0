// Package v1 defines the huddle realtime protocol v1 contract.
//
// It is shared between the server and clients (including the smoke tool) so the
// wire format has a single authoritative definition.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is negotiated via Sec-WebSocket-Protocol on the handshake.
const Subprotocol = "huddle.realtime.v1"

// CloseCodeEvicted is the websocket close code sent to a connection replaced
// by a newer login of the same user (private-use range 4000-4999).
const CloseCodeEvicted = 4001

// Type constants (wire-stable).
const (
	// TypeConnectAnnounce binds an identity to the connection (client -> server).
	TypeConnectAnnounce = "connect_announce"
	// TypeTyping reports the sender's typing state (client -> server).
	TypeTyping = "typing"
	// TypeSendMessage publishes a chat message (client -> server).
	TypeSendMessage = "send_message"

	// TypeOnlineUsers carries the presence roster (server -> all).
	TypeOnlineUsers = "online_users"
	// TypeReceiveMessage carries a chat message (server -> all, sender included).
	TypeReceiveMessage = "receive_message"
	// TypeUserTyping relays a typing indicator (server -> all except the typist).
	TypeUserTyping = "user_typing"
	// TypeAccountLoginElsewhere tells an evicted connection why it is being closed.
	TypeAccountLoginElsewhere = "account_login_elsewhere"
	// TypeError reports a failure to process an event; the connection stays open.
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeConnectAnnounce,
		TypeTyping,
		TypeSendMessage,
		TypeOnlineUsers,
		TypeReceiveMessage,
		TypeUserTyping,
		TypeAccountLoginElsewhere,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// ConnectAnnouncePayload identifies the user behind a connection.
type ConnectAnnouncePayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// TypingPayload is sent by clients when they start or stop typing.
type TypingPayload struct {
	IsTyping bool   `json:"isTyping"`
	Username string `json:"username,omitempty"`
}

// SendMessagePayload is a chat message submitted by a client.
type SendMessagePayload struct {
	Message  string `json:"message"`
	Username string `json:"username,omitempty"`
}

// PresenceEntry is one identity in the online roster.
type PresenceEntry struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// OnlineUsersPayload is the full presence roster. It is always a JSON array (never null).
type OnlineUsersPayload []PresenceEntry

// ReceiveMessagePayload is a broadcast chat message.
type ReceiveMessagePayload struct {
	SenderID  string    `json:"senderId"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Username  string    `json:"username"`
}

// UserTypingPayload is a relayed typing indicator.
type UserTypingPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// NoticePayload carries a human-readable message (account_login_elsewhere, error).
type NoticePayload struct {
	Message string `json:"message"`
}

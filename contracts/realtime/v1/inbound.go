package v1

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxMessageChars bounds send_message text (runes).
const MaxMessageChars = 4000

// ErrProtocol classifies every decode failure produced by Decode.
var ErrProtocol = errors.New("protocol violation")

// ProtocolError describes why an inbound frame was rejected.
type ProtocolError struct {
	Type   string
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("%v: %s", ErrProtocol, e.Reason)
	}
	return fmt.Sprintf("%v: %s: %s", ErrProtocol, e.Type, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return ErrProtocol }

// Inbound is the closed set of client -> server events.
// Implementations: ConnectAnnounce, Typing, SendMessage.
type Inbound interface {
	Kind() string
	inbound()
}

// ConnectAnnounce binds (UserID, Username) to the connection.
type ConnectAnnounce struct {
	UserID   string
	Username string
}

// Typing reports the typing state of the sender.
type Typing struct {
	IsTyping bool
}

// SendMessage carries chat text.
type SendMessage struct {
	Text string
}

func (ConnectAnnounce) Kind() string { return TypeConnectAnnounce }
func (Typing) Kind() string          { return TypeTyping }
func (SendMessage) Kind() string     { return TypeSendMessage }

func (ConnectAnnounce) inbound() {}
func (Typing) inbound()          {}
func (SendMessage) inbound()     {}

// Decode parses one raw frame into a validated Inbound event.
// Every failure is a *ProtocolError.
func Decode(data []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ProtocolError{Reason: "invalid JSON"}
	}
	if err := env.Validate(); err != nil {
		return nil, &ProtocolError{Type: env.Type, Reason: err.Error()}
	}
	return DecodeEnvelope(env)
}

// DecodeEnvelope converts an already-parsed envelope into an Inbound event.
func DecodeEnvelope(env Envelope) (Inbound, error) {
	switch env.Type {
	case TypeConnectAnnounce:
		var p ConnectAnnouncePayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		uid := strings.TrimSpace(p.UserID)
		name := strings.TrimSpace(p.Username)
		if uid == "" {
			return nil, &ProtocolError{Type: env.Type, Reason: "missing userId"}
		}
		if name == "" {
			return nil, &ProtocolError{Type: env.Type, Reason: "missing username"}
		}
		return ConnectAnnounce{UserID: uid, Username: name}, nil

	case TypeTyping:
		var p TypingPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return Typing{IsTyping: p.IsTyping}, nil

	case TypeSendMessage:
		var p SendMessagePayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		text := strings.TrimSpace(p.Message)
		if text == "" {
			return nil, &ProtocolError{Type: env.Type, Reason: "empty message"}
		}
		if utf8.RuneCountInString(text) > MaxMessageChars {
			return nil, &ProtocolError{Type: env.Type, Reason: fmt.Sprintf("message too long: max=%d chars", MaxMessageChars)}
		}
		return SendMessage{Text: text}, nil

	default:
		return nil, &ProtocolError{Type: env.Type, Reason: "not a client event"}
	}
}

func decodePayload(env Envelope, dst any) error {
	raw := bytes.TrimSpace(env.Payload)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return &ProtocolError{Type: env.Type, Reason: "missing payload"}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &ProtocolError{Type: env.Type, Reason: "invalid payload"}
	}
	return nil
}

package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

type MessageType string

const (
	TypeRegister          MessageType = "register"
	TypeRegistered        MessageType = "registered"
	TypeOffer             MessageType = "offer"
	TypeAnswer            MessageType = "answer"
	TypeCandidate         MessageType = "candidate"
	TypeHangup            MessageType = "hangup"
	TypePing              MessageType = "ping"
	TypePong              MessageType = "pong"
	TypeRequestICERestart MessageType = "request_ice_restart"
	TypeICERestartRequest MessageType = "ice_restart_request"
	TypePeerDisconnected  MessageType = "peer_disconnected"
	TypeStreamerConnected MessageType = "streamer_connected"
	TypeError             MessageType = "error"
	TypeInfo              MessageType = "info"
)

var (
	ErrMalformed   = errors.New("invalid message format")
	ErrMissingType = errors.New("message type missing")
)

// Message is a decoded signaling unit. Payload blobs stay raw: the relay
// never looks inside offers, answers or candidates.
type Message struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	PeerType  Role            `json:"peerType,omitempty"`
	Origin    Role            `json:"origin,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Message   string          `json:"message,omitempty"`

	raw []byte
}

// Decode parses one inbound frame. The returned message keeps a private
// copy of data so it can be forwarded verbatim.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Type == "" {
		return Message{}, ErrMissingType
	}
	m.raw = bytes.Clone(data)
	return m, nil
}

// Raw returns the bytes the message was decoded from, or nil for messages
// built by the relay.
func (m Message) Raw() []byte { return m.raw }

// HasPayload reports whether the payload blob for the message type is set.
func (m Message) HasPayload() bool {
	switch m.Type {
	case TypeOffer:
		return present(m.Offer)
	case TypeAnswer:
		return present(m.Answer)
	case TypeCandidate:
		return present(m.Candidate)
	}
	return true
}

// WithOrigin returns the frame with the origin field set to role. Every
// other field of the original frame, known or not, is preserved.
func (m Message) WithOrigin(role Role) ([]byte, error) {
	fields := make(map[string]json.RawMessage)
	if len(m.raw) > 0 {
		if err := json.Unmarshal(m.raw, &fields); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	} else {
		b, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(b, &fields); err != nil {
			return nil, err
		}
	}
	origin, err := json.Marshal(role)
	if err != nil {
		return nil, err
	}
	fields["origin"] = origin
	return json.Marshal(fields)
}

// Encode marshals a relay-built message.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

func Registered(sid SessionID, role Role) Message {
	return Message{Type: TypeRegistered, SessionID: string(sid), PeerType: role}
}

func Pong(sid SessionID) Message {
	return Message{Type: TypePong, SessionID: string(sid)}
}

func PeerDisconnected(sid SessionID, role Role) Message {
	return Message{Type: TypePeerDisconnected, SessionID: string(sid), PeerType: role}
}

func StreamerConnected(sid SessionID) Message {
	return Message{Type: TypeStreamerConnected, SessionID: string(sid)}
}

func ICERestartRequest(sid SessionID, origin Role) Message {
	return Message{Type: TypeICERestartRequest, SessionID: string(sid), Origin: origin}
}

func Error(text string) Message {
	return Message{Type: TypeError, Message: text}
}

func Info(text string) Message {
	return Message{Type: TypeInfo, Message: text}
}

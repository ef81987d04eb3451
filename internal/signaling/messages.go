package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/wilsonzlin/aero/proxy/webrtc-matchmaker/internal/pairing"
)

type MessageType string

const (
	MessageTypeJoin                MessageType = "join"
	MessageTypeWaiting             MessageType = "waiting"
	MessageTypePaired              MessageType = "paired"
	MessageTypeSignal              MessageType = "signal"
	MessageTypePartnerDisconnected MessageType = "partner-disconnected"
	MessageTypeWaitExpired         MessageType = "wait-expired"
	MessageTypeError               MessageType = "error"
)

// ClientMessage is a frame sent by a browser client.
type ClientMessage struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ServerMessage is a frame sent to a browser client. Signal frames are
// encoded separately so the payload reaches the partner byte-for-byte.
type ServerMessage struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Initiator *bool           `json:"initiator,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ParseClientMessage decodes a single client frame. Unknown fields, unknown
// message types and trailing data are rejected.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg ClientMessage
	if err := dec.Decode(&msg); err != nil {
		return ClientMessage{}, err
	}
	if err := msg.validate(); err != nil {
		return ClientMessage{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return ClientMessage{}, fmt.Errorf("unexpected trailing data")
	}
	return msg, nil
}

func (m ClientMessage) validate() error {
	switch m.Type {
	case MessageTypeJoin:
		if m.SessionID != "" || m.Payload != nil {
			return fmt.Errorf("join message has unexpected fields")
		}
	case MessageTypeSignal:
		if m.SessionID == "" {
			return fmt.Errorf("signal message missing sessionId")
		}
		if len(m.Payload) == 0 {
			return fmt.Errorf("signal message missing payload")
		}
	case "":
		return fmt.Errorf("message missing type")
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}

var signalPrefix = []byte(`{"type":"signal","payload":`)

// encodeEvent renders a pairing event as a server frame.
func encodeEvent(ev pairing.Event) ([]byte, error) {
	switch ev.Kind {
	case pairing.EventSignal:
		// json.Marshal would compact the payload; splice it in verbatim.
		out := make([]byte, 0, len(signalPrefix)+len(ev.Payload)+1)
		out = append(out, signalPrefix...)
		out = append(out, ev.Payload...)
		return append(out, '}'), nil
	case pairing.EventPaired:
		return json.Marshal(ServerMessage{
			Type:      MessageTypePaired,
			SessionID: string(ev.SessionID),
			Initiator: ptr(ev.Initiator),
		})
	case pairing.EventWaiting:
		return json.Marshal(ServerMessage{Type: MessageTypeWaiting})
	case pairing.EventPartnerDisconnected:
		return json.Marshal(ServerMessage{Type: MessageTypePartnerDisconnected})
	case pairing.EventWaitExpired:
		return json.Marshal(ServerMessage{Type: MessageTypeWaitExpired})
	default:
		return nil, fmt.Errorf("unsupported event kind %q", ev.Kind)
	}
}

func ptr[T any](v T) *T { return &v }

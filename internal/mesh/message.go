package mesh

import (
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

// MessageType classifies mesh traffic.
type MessageType string

const (
	MessageTypeRequest      MessageType = "request"
	MessageTypeResponse     MessageType = "response"
	MessageTypeNotification MessageType = "notification"
	MessageTypeBroadcast    MessageType = "broadcast"
)

// Message is the envelope for all mesh traffic. It is JSON-serializable
// so the NATS bridge and the WebSocket feed can carry it unchanged.
type Message struct {
	ID        string            `json:"id"`
	From      string            `json:"from"`
	To        string            `json:"to"`
	Type      MessageType       `json:"type"`
	Topic     string            `json:"topic,omitempty"`
	Payload   any               `json:"payload"`
	ReplyTo   string            `json:"reply_to,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// NewMessage creates a message of the given type with a fresh ID.
func NewMessage(from, to string, typ MessageType, payload any) *Message {
	return &Message{
		ID:        newMessageID(),
		From:      from,
		To:        to,
		Type:      typ,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// NewRequest creates a request message expecting a correlated response.
func NewRequest(from, to string, payload any) *Message {
	return NewMessage(from, to, MessageTypeRequest, payload)
}

// NewNotification creates a fire-and-forget message.
func NewNotification(from, to string, payload any) *Message {
	return NewMessage(from, to, MessageTypeNotification, payload)
}

// Respond builds a response correlated to this request.
func (m *Message) Respond(payload any) *Message {
	resp := NewMessage(m.To, m.From, MessageTypeResponse, payload)
	resp.ReplyTo = m.ID
	return resp
}

// WithTopic sets the topic and returns the message for chaining.
func (m *Message) WithTopic(topic string) *Message {
	m.Topic = topic
	return m
}

// WithHeader sets a header and returns the message for chaining.
func (m *Message) WithHeader(key, value string) *Message {
	if m.Headers == nil {
		m.Headers = make(map[string]string, 1)
	}
	m.Headers[key] = value
	return m
}

// Header returns the header value, or "" when absent.
func (m *Message) Header(key string) string {
	return m.Headers[key]
}

// IsRequest reports whether the message expects a response.
func (m *Message) IsRequest() bool { return m.Type == MessageTypeRequest }

// IsBroadcast reports whether the message was fanned out mesh-wide.
func (m *Message) IsBroadcast() bool { return m.Type == MessageTypeBroadcast }

// Clone returns a shallow copy with its own header map.
func (m *Message) Clone() *Message {
	clone := *m
	clone.Headers = maps.Clone(m.Headers)
	return &clone
}

func (m *Message) String() string {
	return fmt.Sprintf("Message{ID: %s, From: %s, To: %s, Type: %s, Topic: %s}",
		m.ID, m.From, m.To, m.Type, m.Topic)
}

// newMessageID returns a time-ordered unique identifier.
func newMessageID() string {
	return uuid.Must(uuid.NewV7()).String()
}

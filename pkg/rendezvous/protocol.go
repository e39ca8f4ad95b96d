package rendezvous

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType names a rendezvous protocol message.
type MessageType string

const (
	MessageTypeRegister  MessageType = "REGISTER"
	MessageTypeQuery     MessageType = "QUERY"
	MessageTypeClear     MessageType = "CLEAR"
	MessageTypeLocations MessageType = "LOCATIONS"
	MessageTypeKeepAlive MessageType = "KEEP_ALIVE"
	MessageTypeError     MessageType = "ERROR"
)

// Error codes carried in ErrorPayload.Code.
const (
	ErrorCodeInvalidMessage = "INVALID_MESSAGE"
	ErrorCodeBadSignature   = "BAD_SIGNATURE"
	ErrorCodeNotFound       = "NOT_FOUND"
)

// Message is the envelope for every rendezvous protocol exchange.
type Message struct {
	Type       MessageType     `json:"type"`
	RequestID  string          `json:"request_id,omitempty"`
	SessionID  string          `json:"session_id,omitempty"`
	RealmID    string          `json:"realm_id,omitempty"`
	Identifier string          `json:"identifier,omitempty"`
	Timestamp  int64           `json:"timestamp"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds a message of the given type stamped with the
// current time.
func NewMessage(t MessageType) *Message {
	return &Message{Type: t, Timestamp: time.Now().UnixMilli()}
}

// NewErrorMessage builds an ERROR message carrying an ErrorPayload.
func NewErrorMessage(code, message string) *Message {
	msg := NewMessage(MessageTypeError)
	payload, _ := json.Marshal(ErrorPayload{Code: code, Message: message})
	msg.Payload = payload
	return msg
}

// WithRequestID sets RequestID and returns the message for chaining.
func (m *Message) WithRequestID(id string) *Message {
	m.RequestID = id
	return m
}

// WithSessionID sets SessionID and returns the message for chaining.
func (m *Message) WithSessionID(id string) *Message {
	m.SessionID = id
	return m
}

// WithRealmID sets RealmID and returns the message for chaining.
func (m *Message) WithRealmID(id string) *Message {
	m.RealmID = id
	return m
}

// WithIdentifier sets Identifier and returns the message for chaining.
func (m *Message) WithIdentifier(id string) *Message {
	m.Identifier = id
	return m
}

// WithPayload marshals v into Payload and returns the message for
// chaining.
func (m *Message) WithPayload(v any) *Message {
	data, err := json.Marshal(v)
	if err != nil {
		return m
	}
	m.Payload = data
	return m
}

// ParsePayload unmarshals the message's payload into v.
func (m *Message) ParsePayload(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("rendezvous: message has no payload")
	}
	return json.Unmarshal(m.Payload, v)
}

// AddressView is the JSON wire form of a UDP endpoint.
type AddressView struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// LocationView is the JSON wire form of a contact.Location.
type LocationView struct {
	Identifier string       `json:"identifier"`
	Source     *AddressView `json:"source,omitempty"`
	Mapped     *AddressView `json:"mapped,omitempty"`
	Relayed    *AddressView `json:"relayed,omitempty"`
	Timestamp  uint32       `json:"timestamp"`
	Signature  []byte       `json:"signature,omitempty"`
	NATType    string       `json:"nat_type,omitempty"`
}

// RegisterPayload is the REGISTER message payload: one signed location
// to store.
type RegisterPayload struct {
	Location LocationView `json:"location"`
}

// ClearPayload is the CLEAR message payload: one signed location to
// remove.
type ClearPayload struct {
	Location LocationView `json:"location"`
}

// LocationsPayload is the LOCATIONS message payload returned in answer
// to QUERY.
type LocationsPayload struct {
	Locations []LocationView `json:"locations"`
}

// ErrorPayload is the ERROR message payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

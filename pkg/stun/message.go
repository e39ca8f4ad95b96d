// Package stun implements the STUN/TURN binary message format: the
// RFC-5389 and legacy RFC-3489 headers, the tag-length-value attribute
// encoding, and the process-wide attribute type registry.
package stun

import (
	"crypto/rand"
	"fmt"

	"github.com/saintparish4/dim/pkg/buf"
)

// MessageType is the 16-bit STUN/TURN message type.
type MessageType uint16

const (
	TypeBindingRequest MessageType = 0x0001
	TypeBindingSuccess MessageType = 0x0101
	TypeBindingError   MessageType = 0x0111

	// TURN method/class combinations (RFC 5766).
	TypeAllocateRequest         MessageType = 0x0003
	TypeAllocateSuccess         MessageType = 0x0103
	TypeAllocateError           MessageType = 0x0113
	TypeCreatePermissionRequest MessageType = 0x0008
	TypeCreatePermissionSuccess MessageType = 0x0108
	TypeCreatePermissionError   MessageType = 0x0118
	TypeRefreshRequest          MessageType = 0x0004
	TypeRefreshSuccess          MessageType = 0x0104
	TypeRefreshError            MessageType = 0x0114
	TypeSendIndication          MessageType = 0x0016
	TypeDataIndication          MessageType = 0x0017
)

// AttributeType is the 16-bit STUN/TURN attribute code. Codes below
// 0x8000 are comprehension-required; codes at or above it are
// comprehension-optional (RFC 5389 §15).
type AttributeType uint16

const (
	AttrMappedAddress     AttributeType = 0x0001
	AttrResponseAddress   AttributeType = 0x0002
	AttrChangeRequest     AttributeType = 0x0003
	AttrSourceAddress     AttributeType = 0x0004
	AttrChangedAddress    AttributeType = 0x0005
	AttrUsername          AttributeType = 0x0006
	AttrMessageIntegrity  AttributeType = 0x0008
	AttrErrorCode         AttributeType = 0x0009
	AttrUnknownAttributes AttributeType = 0x000A
	AttrReflectedFrom     AttributeType = 0x000B
	AttrRealm             AttributeType = 0x0014
	AttrNonce             AttributeType = 0x0015
	AttrXORMappedAddress  AttributeType = 0x0020
	AttrXORMappedAddrOld  AttributeType = 0x8020
	AttrSoftware          AttributeType = 0x8022
	AttrAlternateServer   AttributeType = 0x8023
	AttrFingerprint       AttributeType = 0x8028

	// TURN-specific (RFC 5766).
	AttrLifetime           AttributeType = 0x000D
	AttrXORPeerAddress     AttributeType = 0x0012
	AttrData               AttributeType = 0x0013
	AttrXORRelayedAddress  AttributeType = 0x0016
	AttrRequestedTransport AttributeType = 0x0019
)

// MagicCookie is the fixed 32-bit constant used to recognize RFC-5389
// messages and to XOR-mask addresses (RFC 5389 §6).
const MagicCookie uint32 = 0x2112A442

const (
	HeaderSize        = 20
	TransactionIDSize = 12

	// LegacyTransactionIDSize is the RFC-3489 transaction ID length.
	LegacyTransactionIDSize = 16

	FamilyIPv4 uint16 = 0x01
	FamilyIPv6 uint16 = 0x02
)

// Message is a decoded STUN/TURN message.
type Message struct {
	Type          MessageType
	TransactionID [TransactionIDSize]byte
	Legacy        bool // true if decoded from an RFC-3489 header (no magic cookie)
	Attributes    []Attribute
}

// Attribute is a single decoded TLV attribute. Value is the raw,
// unpadded attribute value; Length is its unpadded byte length.
type Attribute struct {
	Type   AttributeType
	Length uint16
	Value  []byte
}

// NewMessage creates a message with a freshly generated transaction ID.
func NewMessage(msgType MessageType) (*Message, error) {
	msg := &Message{Type: msgType}
	if _, err := rand.Read(msg.TransactionID[:]); err != nil {
		return nil, fmt.Errorf("generate transaction id: %w", err)
	}
	return msg, nil
}

// AddAttribute appends an attribute to the message.
func (m *Message) AddAttribute(attr Attribute) {
	m.Attributes = append(m.Attributes, attr)
}

// GetAttribute returns the first attribute of the given type.
func (m *Message) GetAttribute(attrType AttributeType) (*Attribute, bool) {
	for i := range m.Attributes {
		if m.Attributes[i].Type == attrType {
			return &m.Attributes[i], true
		}
	}
	return nil, false
}

// Encode serializes the message to RFC-5389 wire format.
func (m *Message) Encode() ([]byte, error) {
	msgLength := 0
	for _, attr := range m.Attributes {
		msgLength += 4 + buf.Pad4(int(attr.Length))
	}

	out := make([]byte, HeaderSize+msgLength)
	buf.PutUInt16(out, 0, uint16(m.Type))
	buf.PutUInt16(out, 2, uint16(msgLength))
	buf.PutUInt32(out, 4, MagicCookie)
	copy(out[8:20], m.TransactionID[:])

	offset := HeaderSize
	for _, attr := range m.Attributes {
		encoded := buf.Encode(uint16(attr.Type), attr.Value, buf.STUNFamily)
		copy(out[offset:], encoded)
		offset += len(encoded)
	}

	return out, nil
}

// Decode decodes a STUN/TURN message, auto-detecting RFC-5389 vs legacy
// RFC-3489 framing by checking the magic cookie field.
func Decode(data []byte) (*Message, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("message too short: %d bytes", len(data))
	}
	cookie := buf.UInt32(buf.New(data), 4)
	if cookie == MagicCookie {
		return Decode5389(data)
	}
	return Decode3489(data)
}

// Decode5389 decodes a message using the modern RFC-5389 header: 2-byte
// type, 2-byte length, 4-byte magic cookie, 12-byte transaction ID.
func Decode5389(data []byte) (*Message, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("message too short: %d bytes", len(data))
	}

	b := buf.New(data)
	msg := &Message{Type: MessageType(buf.UInt16(b, 0))}

	msgLength := buf.UInt16(b, 2)
	cookie := buf.UInt32(b, 4)
	if cookie != MagicCookie {
		return nil, fmt.Errorf("invalid magic cookie: 0x%X", cookie)
	}
	copy(msg.TransactionID[:], data[8:20])

	if len(data) < HeaderSize+int(msgLength) {
		return nil, fmt.Errorf("incomplete message: expected %d bytes, got %d", HeaderSize+int(msgLength), len(data))
	}

	return decodeAttributes(msg, b.Slice(HeaderSize, HeaderSize+int(msgLength)))
}

// Decode3489 decodes a message using the legacy RFC-3489 header: 2-byte
// type, 2-byte length, 16-byte transaction ID (no magic cookie). Only the
// trailing 12 bytes of the legacy transaction ID are retained, since
// legacy messages only ever carry plain MAPPED-ADDRESS, never the
// XOR-MAPPED-ADDRESS form that needs the full transaction ID as key
// material.
func Decode3489(data []byte) (*Message, error) {
	const legacyHeaderSize = 4 + LegacyTransactionIDSize
	if len(data) < legacyHeaderSize {
		return nil, fmt.Errorf("legacy message too short: %d bytes", len(data))
	}

	b := buf.New(data)
	msg := &Message{Type: MessageType(buf.UInt16(b, 0)), Legacy: true}

	msgLength := buf.UInt16(b, 2)
	copy(msg.TransactionID[:], data[4+4:4+LegacyTransactionIDSize])

	if len(data) < legacyHeaderSize+int(msgLength) {
		return nil, fmt.Errorf("incomplete legacy message: expected %d bytes, got %d", legacyHeaderSize+int(msgLength), len(data))
	}

	return decodeAttributes(msg, b.Slice(legacyHeaderSize, legacyHeaderSize+int(msgLength)))
}

func decodeAttributes(msg *Message, body buf.Buffer) (*Message, error) {
	tlvs, residual := buf.Parse(body, buf.STUNFamily)
	if residual != 0 {
		return nil, fmt.Errorf("truncated attribute: %d residual bytes", residual)
	}
	for _, tlv := range tlvs {
		msg.AddAttribute(Attribute{
			Type:   AttributeType(tlv.Tag),
			Length: uint16(tlv.Value.Len()),
			Value:  tlv.Value.Bytes(),
		})
	}
	return msg, nil
}

func (t MessageType) String() string {
	switch t {
	case TypeBindingRequest:
		return "Binding Request"
	case TypeBindingSuccess:
		return "Binding Success Response"
	case TypeBindingError:
		return "Binding Error Response"
	case TypeAllocateRequest:
		return "Allocate Request"
	case TypeAllocateSuccess:
		return "Allocate Success Response"
	case TypeAllocateError:
		return "Allocate Error Response"
	case TypeCreatePermissionRequest:
		return "CreatePermission Request"
	case TypeCreatePermissionSuccess:
		return "CreatePermission Success Response"
	case TypeCreatePermissionError:
		return "CreatePermission Error Response"
	case TypeRefreshRequest:
		return "Refresh Request"
	case TypeRefreshSuccess:
		return "Refresh Success Response"
	case TypeRefreshError:
		return "Refresh Error Response"
	case TypeSendIndication:
		return "Send Indication"
	case TypeDataIndication:
		return "Data Indication"
	default:
		return fmt.Sprintf("Unknown (0x%04X)", uint16(t))
	}
}

func (t AttributeType) String() string {
	if name, ok := attributeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown (0x%04X)", uint16(t))
}

var attributeNames = map[AttributeType]string{
	AttrMappedAddress:      "MAPPED-ADDRESS",
	AttrResponseAddress:    "RESPONSE-ADDRESS",
	AttrChangeRequest:      "CHANGE-REQUEST",
	AttrSourceAddress:      "SOURCE-ADDRESS",
	AttrChangedAddress:     "CHANGED-ADDRESS",
	AttrUsername:           "USERNAME",
	AttrMessageIntegrity:   "MESSAGE-INTEGRITY",
	AttrErrorCode:          "ERROR-CODE",
	AttrUnknownAttributes:  "UNKNOWN-ATTRIBUTES",
	AttrReflectedFrom:      "REFLECTED-FROM",
	AttrRealm:              "REALM",
	AttrNonce:              "NONCE",
	AttrXORMappedAddress:   "XOR-MAPPED-ADDRESS",
	AttrXORMappedAddrOld:   "XOR-MAPPED-ADDRESS (old)",
	AttrSoftware:           "SOFTWARE",
	AttrAlternateServer:    "ALTERNATE-SERVER",
	AttrFingerprint:        "FINGERPRINT",
	AttrLifetime:           "LIFETIME",
	AttrXORPeerAddress:     "XOR-PEER-ADDRESS",
	AttrData:               "DATA",
	AttrXORRelayedAddress:  "XOR-RELAYED-ADDRESS",
	AttrRequestedTransport: "REQUESTED-TRANSPORT",
}

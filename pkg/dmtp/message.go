package dmtp

import "fmt"

// Message is a decoded DMTP message: addressed content exchanged
// between two identifiers once a session is established.
type Message struct {
	Sender   string
	Receiver string
	Time     uint32
	Content  []byte

	Sign []byte // optional
	Key  []byte // optional, wrapped symmetric key for encrypted Content
}

// NewMessage builds an unsigned message.
func NewMessage(sender, receiver string, timestamp uint32, content []byte) *Message {
	return &Message{Sender: sender, Receiver: receiver, Time: timestamp, Content: content}
}

// Encode serializes the message to its DMTP field-sequence body.
func (m *Message) Encode() []byte {
	fields := Fields{
		TagSENDER:   []byte(m.Sender),
		TagRECEIVER: []byte(m.Receiver),
		TagTIME:     EncodeTimestamp(m.Time),
		TagCONTENT:  m.Content,
	}
	if m.Sign != nil {
		fields[TagSIGN] = m.Sign
	}
	if m.Key != nil {
		fields[TagKEY] = m.Key
	}
	return fields.Encode()
}

// DecodeMessage parses a Message body.
func DecodeMessage(body []byte) (*Message, error) {
	fields, err := ParseFields(body)
	if err != nil {
		return nil, fmt.Errorf("dmtp: decode message: %w", err)
	}

	sender, ok := fields[TagSENDER]
	if !ok {
		return nil, fmt.Errorf("dmtp: message missing SENDER field")
	}
	receiver, ok := fields[TagRECEIVER]
	if !ok {
		return nil, fmt.Errorf("dmtp: message missing RECEIVER field")
	}
	content, ok := fields[TagCONTENT]
	if !ok {
		return nil, fmt.Errorf("dmtp: message missing CONTENT field")
	}

	msg := &Message{
		Sender:   string(sender),
		Receiver: string(receiver),
		Content:  content,
	}

	if raw, ok := fields[TagTIME]; ok {
		t, err := DecodeTimestamp(raw)
		if err != nil {
			return nil, fmt.Errorf("dmtp: message TIME: %w", err)
		}
		msg.Time = t
	}
	if raw, ok := fields[TagSIGN]; ok {
		msg.Sign = raw
	}
	if raw, ok := fields[TagKEY]; ok {
		msg.Key = raw
	}

	return msg, nil
}

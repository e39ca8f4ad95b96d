package dmtp

import (
	"fmt"
	"net"
)

// Kind names a DMTP command.
type Kind string

const (
	KindHI   Kind = "HI"
	KindSIGN Kind = "SIGN"
	KindCALL Kind = "CALL"
	KindFROM Kind = "FROM"
	KindBYE  Kind = "BYE"
)

// Command is a decoded DMTP command. Optional fields are nil/zero when
// absent; Kind determines which fields a well-formed command carries.
type Command struct {
	Kind Kind
	ID   string

	Src *net.UDPAddr // SRC
	Map *net.UDPAddr // MAP
	Rly *net.UDPAddr // RLY

	NAT  []byte
	Time uint32
	Sign []byte
}

// NewHI builds a client login/keepalive command.
func NewHI(id string, timestamp uint32) *Command {
	return &Command{Kind: KindHI, ID: id, Time: timestamp}
}

// NewSIGN builds the server's signed location reply to a HI.
func NewSIGN(id string, mapped *net.UDPAddr, timestamp uint32) *Command {
	return &Command{Kind: KindSIGN, ID: id, Map: mapped, Time: timestamp}
}

// NewCALL builds a request asking the server to advise a peer's
// location.
func NewCALL(id string) *Command {
	return &Command{Kind: KindCALL, ID: id}
}

// NewFROM builds the server's advisory of a peer's current location.
func NewFROM(id string, src, mapped *net.UDPAddr, timestamp uint32) *Command {
	return &Command{Kind: KindFROM, ID: id, Src: src, Map: mapped, Time: timestamp}
}

// NewBYE builds a signed departure notice.
func NewBYE(id string, src, mapped *net.UDPAddr, timestamp uint32, sign []byte) *Command {
	return &Command{Kind: KindBYE, ID: id, Src: src, Map: mapped, Time: timestamp, Sign: sign}
}

// Encode serializes the command to its DMTP field-sequence body.
func (c *Command) Encode() []byte {
	fields := Fields{
		TagCMD:  []byte(c.Kind),
		TagID:   []byte(c.ID),
		TagTIME: EncodeTimestamp(c.Time),
	}
	if c.Src != nil {
		fields[TagSRC] = EncodeAddress(c.Src)
	}
	if c.Map != nil {
		fields[TagMAP] = EncodeAddress(c.Map)
	}
	if c.Rly != nil {
		fields[TagRLY] = EncodeAddress(c.Rly)
	}
	if c.NAT != nil {
		fields[TagNAT] = c.NAT
	}
	if c.Sign != nil {
		fields[TagSIGN] = c.Sign
	}
	return fields.Encode()
}

// DecodeCommand parses a Command body.
func DecodeCommand(body []byte) (*Command, error) {
	fields, err := ParseFields(body)
	if err != nil {
		return nil, fmt.Errorf("dmtp: decode command: %w", err)
	}

	kindRaw, ok := fields[TagCMD]
	if !ok {
		return nil, fmt.Errorf("dmtp: command missing CMD field")
	}
	kind := Kind(kindRaw)

	idRaw, ok := fields[TagID]
	if !ok {
		return nil, fmt.Errorf("dmtp: command missing ID field")
	}

	cmd := &Command{Kind: kind, ID: string(idRaw)}

	if raw, ok := fields[TagTIME]; ok {
		t, err := DecodeTimestamp(raw)
		if err != nil {
			return nil, fmt.Errorf("dmtp: command TIME: %w", err)
		}
		cmd.Time = t
	}
	if raw, ok := fields[TagSRC]; ok {
		addr, err := DecodeAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("dmtp: command SRC: %w", err)
		}
		cmd.Src = addr
	}
	if raw, ok := fields[TagMAP]; ok {
		addr, err := DecodeAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("dmtp: command MAP: %w", err)
		}
		cmd.Map = addr
	}
	if raw, ok := fields[TagRLY]; ok {
		addr, err := DecodeAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("dmtp: command RLY: %w", err)
		}
		cmd.Rly = addr
	}
	if raw, ok := fields[TagNAT]; ok {
		cmd.NAT = raw
	}
	if raw, ok := fields[TagSIGN]; ok {
		cmd.Sign = raw
	}

	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Validate checks that a command carries the fields its Kind requires
// (spec.md §4.4). Optional fields (marked with ? in the spec) are not
// checked here.
func (c *Command) Validate() error {
	switch c.Kind {
	case KindHI:
		if c.ID == "" {
			return fmt.Errorf("dmtp: HI requires ID")
		}
	case KindSIGN:
		if c.ID == "" || c.Map == nil {
			return fmt.Errorf("dmtp: SIGN requires ID and MAP")
		}
	case KindCALL:
		if c.ID == "" {
			return fmt.Errorf("dmtp: CALL requires ID")
		}
	case KindFROM:
		if c.ID == "" {
			return fmt.Errorf("dmtp: FROM requires ID")
		}
	case KindBYE:
		if c.ID == "" || c.Src == nil || c.Map == nil || c.Sign == nil {
			return fmt.Errorf("dmtp: BYE requires ID, SRC, MAP and SIGN")
		}
	default:
		return fmt.Errorf("dmtp: unknown command kind %q", c.Kind)
	}
	return nil
}

// Package dmtp implements the Direct Message Transfer Protocol field
// layer: the named-field TLV carried inside an MTP body, and the
// Commands and Messages built from it.
package dmtp

import (
	"fmt"
	"net"
	"sort"

	"github.com/saintparish4/dim/pkg/buf"
	"github.com/saintparish4/dim/pkg/stun"
)

// Tag is a DMTP field's 1-byte name.
type Tag byte

const (
	TagID Tag = iota + 1
	TagSRC
	TagMAP
	TagRLY
	TagNAT
	TagTIME
	TagSIGN
	TagSENDER
	TagRECEIVER
	TagCONTENT
	TagFILE
	TagKEY
	// TagCMD names the command kind (HI/SIGN/CALL/FROM/BYE) carried in a
	// Command body. Not named in the field list but needed so a receiver
	// can tell the commands apart without out-of-band context.
	TagCMD
)

func (t Tag) String() string {
	switch t {
	case TagID:
		return "ID"
	case TagSRC:
		return "SRC"
	case TagMAP:
		return "MAP"
	case TagRLY:
		return "RLY"
	case TagNAT:
		return "NAT"
	case TagTIME:
		return "TIME"
	case TagSIGN:
		return "SIGN"
	case TagSENDER:
		return "SENDER"
	case TagRECEIVER:
		return "RECEIVER"
	case TagCONTENT:
		return "CONTENT"
	case TagFILE:
		return "FILE"
	case TagKEY:
		return "KEY"
	case TagCMD:
		return "CMD"
	default:
		return fmt.Sprintf("Unknown(%d)", byte(t))
	}
}

// Fields is a decoded set of DMTP named fields, keyed by tag.
type Fields map[Tag][]byte

// Encode serializes fields in ascending tag order, so encoding is
// deterministic (useful for tests and for reproducible signing input).
func (f Fields) Encode() []byte {
	tags := make([]int, 0, len(f))
	for t := range f {
		tags = append(tags, int(t))
	}
	sort.Ints(tags)

	var out []byte
	for _, ti := range tags {
		t := Tag(ti)
		out = append(out, buf.Encode(uint16(t), f[t], buf.DMTPFamily)...)
	}
	return out
}

// ParseFields decodes a DMTP field sequence from an MTP body.
func ParseFields(body []byte) (Fields, error) {
	tlvs, residual := buf.Parse(buf.New(body), buf.DMTPFamily)
	if residual != 0 {
		return nil, fmt.Errorf("dmtp: truncated field: %d residual bytes", residual)
	}
	fields := make(Fields, len(tlvs))
	for _, tlv := range tlvs {
		fields[Tag(tlv.Tag)] = tlv.Value.Bytes()
	}
	return fields, nil
}

// EncodeAddress encodes addr as the STUN MAPPED-ADDRESS-shaped value
// DMTP address fields (SRC/MAP/RLY) use on the wire.
func EncodeAddress(addr *net.UDPAddr) []byte {
	return stun.EncodeMappedAddress(addr).Value
}

// DecodeAddress decodes a DMTP address field value back into a UDP
// address.
func DecodeAddress(value []byte) (*net.UDPAddr, error) {
	attr := &stun.Attribute{Type: stun.AttrMappedAddress, Value: value}
	return stun.DecodeMappedAddress(attr)
}

// EncodeTimestamp encodes seconds-since-epoch as the 4-byte big-endian
// field DMTP's TIME uses.
func EncodeTimestamp(seconds uint32) []byte {
	out := make([]byte, 4)
	buf.PutUInt32(out, 0, seconds)
	return out
}

// DecodeTimestamp decodes a 4-byte big-endian TIME field.
func DecodeTimestamp(value []byte) (uint32, error) {
	if len(value) < 4 {
		return 0, fmt.Errorf("dmtp: TIME field too short: %d bytes", len(value))
	}
	return buf.UInt32(buf.New(value), 0), nil
}

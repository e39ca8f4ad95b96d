// Package mtp implements the Message Transfer Protocol: a 24-byte framed,
// fragmenting, acknowledging reliability layer over UDP datagrams.
package mtp

import (
	"fmt"
	"sync/atomic"

	"github.com/saintparish4/dim/pkg/buf"
)

// Type is the MTP packet type.
type Type uint8

const (
	TypeCommand Type = iota + 1
	TypeCommandRespond
	TypeMessage
	TypeMessageRespond
	TypeMessageFragment
)

func (t Type) String() string {
	switch t {
	case TypeCommand:
		return "Command"
	case TypeCommandRespond:
		return "CommandRespond"
	case TypeMessage:
		return "Message"
	case TypeMessageRespond:
		return "MessageRespond"
	case TypeMessageFragment:
		return "MessageFragment"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

const (
	// Magic identifies an MTP packet on the wire.
	Magic = "DIM\x00"

	// Version is the only header version this package understands.
	Version byte = 1

	// HeaderSize is the fixed MTP header length in bytes.
	HeaderSize = 24

	// MaxBodyLen is the recommended maximum body size so a single,
	// unfragmented packet fits an unfragmented IPv4 MTU (576 total).
	MaxBodyLen = 512
)

// Header is the 24-byte MTP packet header.
type Header struct {
	Version  byte
	Type     Type
	SN       uint32
	Pages    uint32
	Offset   uint32
	BodyLen  uint32
	Reserved uint16
}

// Package is a decoded MTP packet: its header plus a body slice view.
type Package struct {
	Head Header
	Body []byte
}

// snCounter generates monotonic, wrapping, never-zero sequence numbers.
var snCounter uint32

// nextSN returns the next sequence number, skipping zero on wraparound.
func nextSN() uint32 {
	sn := atomic.AddUint32(&snCounter, 1)
	if sn == 0 {
		sn = atomic.AddUint32(&snCounter, 1)
	}
	return sn
}

// ParsePackage validates and decodes a single MTP packet from data.
// Returns an error for a bad magic, unsupported version, or a body_len
// that would overrun the supplied buffer — all treated as drop-silently
// parse errors by callers.
func ParsePackage(data []byte) (*Package, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("mtp: packet too short: %d bytes", len(data))
	}

	b := buf.New(data)
	if string(data[0:4]) != Magic {
		return nil, fmt.Errorf("mtp: bad magic")
	}
	version := data[4]
	if version != Version {
		return nil, fmt.Errorf("mtp: unsupported version %d", version)
	}

	head := Header{
		Version:  version,
		Type:     Type(data[5]),
		SN:       buf.UInt32(b, 6),
		Pages:    buf.UInt32(b, 10),
		Offset:   buf.UInt32(b, 14),
		BodyLen:  buf.UInt32(b, 18),
		Reserved: buf.UInt16(b, 22),
	}

	if head.Pages < 1 {
		return nil, fmt.Errorf("mtp: pages must be >= 1")
	}
	if head.Offset >= head.Pages {
		return nil, fmt.Errorf("mtp: offset %d out of range for pages %d", head.Offset, head.Pages)
	}
	if int(HeaderSize)+int(head.BodyLen) > len(data) {
		return nil, fmt.Errorf("mtp: body_len %d overruns buffer of %d bytes", head.BodyLen, len(data))
	}

	body := data[HeaderSize : HeaderSize+int(head.BodyLen)]

	return &Package{Head: head, Body: body}, nil
}

// Encode serializes the package to its 24-byte-header wire form.
func (p *Package) Encode() []byte {
	out := make([]byte, HeaderSize+len(p.Body))
	copy(out[0:4], Magic)
	out[4] = p.Head.Version
	out[5] = byte(p.Head.Type)
	buf.PutUInt32(out, 6, p.Head.SN)
	buf.PutUInt32(out, 10, p.Head.Pages)
	buf.PutUInt32(out, 14, p.Head.Offset)
	buf.PutUInt32(out, 18, uint32(len(p.Body)))
	buf.PutUInt16(out, 22, p.Head.Reserved)
	copy(out[HeaderSize:], p.Body)
	return out
}

// CreatePackage builds a package of the given type and body. If sn is 0,
// a fresh sequence number is allocated. A body larger than MaxBodyLen is
// still returned as one unfragmented Package — callers that need
// fragmentation call Split on the result.
func CreatePackage(t Type, sn uint32, body []byte) *Package {
	if sn == 0 {
		sn = nextSN()
	}
	return &Package{
		Head: Header{
			Version: Version,
			Type:    t,
			SN:      sn,
			Pages:   1,
			Offset:  0,
			BodyLen: uint32(len(body)),
		},
		Body: body,
	}
}

// Split partitions a Message package's body into MessageFragment packages
// sharing one sn, each carrying its offset in [0, pages). p.Head.Type
// must be TypeMessage; Split is a no-op (returns a single-element slice
// containing p) when the body already fits in one packet.
func (p *Package) Split() ([]*Package, error) {
	if p.Head.Type != TypeMessage {
		return nil, fmt.Errorf("mtp: split requires TypeMessage, got %v", p.Head.Type)
	}
	if len(p.Body) <= MaxBodyLen {
		return []*Package{p}, nil
	}

	pages := (len(p.Body) + MaxBodyLen - 1) / MaxBodyLen
	fragments := make([]*Package, 0, pages)
	for i := 0; i < pages; i++ {
		start := i * MaxBodyLen
		end := start + MaxBodyLen
		if end > len(p.Body) {
			end = len(p.Body)
		}
		chunk := make([]byte, end-start)
		copy(chunk, p.Body[start:end])
		fragments = append(fragments, &Package{
			Head: Header{
				Version: Version,
				Type:    TypeMessageFragment,
				SN:      p.Head.SN,
				Pages:   uint32(pages),
				Offset:  uint32(i),
				BodyLen: uint32(len(chunk)),
			},
			Body: chunk,
		})
	}
	return fragments, nil
}

// AssemblePackages concatenates fragments in offset order into a single
// Message package. All fragments must share one sn and one pages count,
// with unique offsets covering [0, pages).
func AssemblePackages(fragments []*Package) (*Package, error) {
	if len(fragments) == 0 {
		return nil, fmt.Errorf("mtp: no fragments to assemble")
	}

	sn := fragments[0].Head.SN
	pages := fragments[0].Head.Pages
	if uint32(len(fragments)) != pages {
		return nil, fmt.Errorf("mtp: expected %d fragments, got %d", pages, len(fragments))
	}

	ordered := make([][]byte, pages)
	seen := make([]bool, pages)
	for _, frag := range fragments {
		if frag.Head.SN != sn {
			return nil, fmt.Errorf("mtp: fragment sn mismatch")
		}
		if frag.Head.Pages != pages {
			return nil, fmt.Errorf("mtp: fragment pages mismatch")
		}
		if frag.Head.Offset >= pages {
			return nil, fmt.Errorf("mtp: fragment offset %d out of range", frag.Head.Offset)
		}
		if seen[frag.Head.Offset] {
			continue // duplicate offset: first wins
		}
		seen[frag.Head.Offset] = true
		ordered[frag.Head.Offset] = frag.Body
	}

	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("mtp: missing fragment at offset %d", i)
		}
	}

	total := 0
	for _, chunk := range ordered {
		total += len(chunk)
	}
	body := make([]byte, 0, total)
	for _, chunk := range ordered {
		body = append(body, chunk...)
	}

	return &Package{
		Head: Header{
			Version: Version,
			Type:    TypeMessage,
			SN:      sn,
			Pages:   1,
			Offset:  0,
			BodyLen: uint32(len(body)),
		},
		Body: body,
	}, nil
}

// FragmentAckBody builds the body of a MessageRespond acknowledging one
// fragment: pages(4) ‖ offset(4) ‖ "OK".
func FragmentAckBody(pages, offset uint32) []byte {
	out := make([]byte, 10)
	buf.PutUInt32(out, 0, pages)
	buf.PutUInt32(out, 4, offset)
	copy(out[8:], "OK")
	return out
}

// ParseFragmentAckBody decodes a fragment MessageRespond body back into
// its pages/offset pair, verifying the trailing "OK" status.
func ParseFragmentAckBody(body []byte) (pages, offset uint32, ok bool) {
	if len(body) < 10 || string(body[8:10]) != "OK" {
		return 0, 0, false
	}
	b := buf.New(body)
	return buf.UInt32(b, 0), buf.UInt32(b, 4), true
}

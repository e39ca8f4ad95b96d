package dmtp

import (
	"bytes"
	"net"
	"testing"
)

func udpAddr(ip string, port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
}

func TestFieldsEncodeParseRoundtrip(t *testing.T) {
	fields := Fields{
		TagID:      []byte("alice"),
		TagCONTENT: []byte("hello"),
	}
	decoded, err := ParseFields(fields.Encode())
	if err != nil {
		t.Fatalf("ParseFields failed: %v", err)
	}
	if string(decoded[TagID]) != "alice" || string(decoded[TagCONTENT]) != "hello" {
		t.Errorf("roundtrip mismatch: %v", decoded)
	}
}

func TestAddressFieldRoundtrip(t *testing.T) {
	addr := udpAddr("203.0.113.9", 4242)
	got, err := DecodeAddress(EncodeAddress(addr))
	if err != nil {
		t.Fatalf("DecodeAddress failed: %v", err)
	}
	if !got.IP.Equal(addr.IP) || got.Port != addr.Port {
		t.Errorf("got %v, want %v", got, addr)
	}
}

func TestTimestampFieldRoundtrip(t *testing.T) {
	got, err := DecodeTimestamp(EncodeTimestamp(1700000000))
	if err != nil {
		t.Fatalf("DecodeTimestamp failed: %v", err)
	}
	if got != 1700000000 {
		t.Errorf("got %d, want 1700000000", got)
	}
}

func TestHICommandRoundtrip(t *testing.T) {
	cmd := NewHI("alice", 1700000001)
	decoded, err := DecodeCommand(cmd.Encode())
	if err != nil {
		t.Fatalf("DecodeCommand failed: %v", err)
	}
	if decoded.Kind != KindHI || decoded.ID != "alice" || decoded.Time != 1700000001 {
		t.Errorf("got %+v", decoded)
	}
}

func TestSIGNCommandRoundtrip(t *testing.T) {
	mapped := udpAddr("198.51.100.7", 9000)
	cmd := NewSIGN("alice", mapped, 1700000002)
	decoded, err := DecodeCommand(cmd.Encode())
	if err != nil {
		t.Fatalf("DecodeCommand failed: %v", err)
	}
	if decoded.Kind != KindSIGN || decoded.Map == nil || !decoded.Map.IP.Equal(mapped.IP) || decoded.Map.Port != mapped.Port {
		t.Errorf("got %+v", decoded)
	}
}

func TestCALLCommandRoundtrip(t *testing.T) {
	cmd := NewCALL("bob")
	decoded, err := DecodeCommand(cmd.Encode())
	if err != nil {
		t.Fatalf("DecodeCommand failed: %v", err)
	}
	if decoded.Kind != KindCALL || decoded.ID != "bob" {
		t.Errorf("got %+v", decoded)
	}
}

func TestFROMCommandRoundtrip(t *testing.T) {
	src := udpAddr("10.0.0.5", 5000)
	mapped := udpAddr("198.51.100.7", 9001)
	cmd := NewFROM("bob", src, mapped, 1700000003)
	decoded, err := DecodeCommand(cmd.Encode())
	if err != nil {
		t.Fatalf("DecodeCommand failed: %v", err)
	}
	if decoded.Kind != KindFROM || decoded.Src == nil || decoded.Map == nil {
		t.Fatalf("got %+v", decoded)
	}
	if !decoded.Src.IP.Equal(src.IP) || decoded.Src.Port != src.Port {
		t.Errorf("src mismatch: got %v, want %v", decoded.Src, src)
	}
	if !decoded.Map.IP.Equal(mapped.IP) || decoded.Map.Port != mapped.Port {
		t.Errorf("map mismatch: got %v, want %v", decoded.Map, mapped)
	}
}

func TestBYECommandRoundtrip(t *testing.T) {
	src := udpAddr("10.0.0.6", 5001)
	mapped := udpAddr("198.51.100.8", 9002)
	sign := []byte("deadbeef")
	cmd := NewBYE("alice", src, mapped, 1700000004, sign)
	decoded, err := DecodeCommand(cmd.Encode())
	if err != nil {
		t.Fatalf("DecodeCommand failed: %v", err)
	}
	if decoded.Kind != KindBYE || !bytes.Equal(decoded.Sign, sign) {
		t.Errorf("got %+v", decoded)
	}
}

func TestDecodeCommandRejectsMissingRequiredFields(t *testing.T) {
	// A BYE without SRC/MAP/SIGN must fail validation.
	incomplete := &Command{Kind: KindBYE, ID: "alice"}
	if _, err := DecodeCommand(incomplete.Encode()); err == nil {
		t.Error("expected validation error for incomplete BYE")
	}
}

func TestDecodeCommandRejectsUnknownKind(t *testing.T) {
	fields := Fields{TagCMD: []byte("NOPE"), TagID: []byte("x")}
	if _, err := DecodeCommand(fields.Encode()); err == nil {
		t.Error("expected error for unknown command kind")
	}
}

func TestMessageRoundtrip(t *testing.T) {
	msg := NewMessage("alice", "bob", 1700000005, []byte("hi there"))
	decoded, err := DecodeMessage(msg.Encode())
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}
	if decoded.Sender != "alice" || decoded.Receiver != "bob" || !bytes.Equal(decoded.Content, msg.Content) {
		t.Errorf("got %+v", decoded)
	}
}

func TestMessageWithSignAndKeyRoundtrip(t *testing.T) {
	msg := NewMessage("alice", "bob", 1700000006, []byte("secret"))
	msg.Sign = []byte("sig")
	msg.Key = []byte("wrapped-key")

	decoded, err := DecodeMessage(msg.Encode())
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}
	if !bytes.Equal(decoded.Sign, msg.Sign) || !bytes.Equal(decoded.Key, msg.Key) {
		t.Errorf("got %+v", decoded)
	}
}

func TestDecodeMessageRejectsMissingContent(t *testing.T) {
	fields := Fields{
		TagSENDER:   []byte("alice"),
		TagRECEIVER: []byte("bob"),
	}
	if _, err := DecodeMessage(fields.Encode()); err == nil {
		t.Error("expected error for missing CONTENT field")
	}
}

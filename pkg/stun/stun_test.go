package stun

import (
	"bytes"
	"net"
	"testing"
	"time"
)

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(TypeBindingRequest)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	if msg.Type != TypeBindingRequest {
		t.Errorf("expected type %v, got %v", TypeBindingRequest, msg.Type)
	}

	// Verify transaction ID is not all zeros
	allZeros := true
	for _, b := range msg.TransactionID {
		if b != 0 {
			allZeros = false
			break
		}
	}
	if allZeros {
		t.Error("transaction ID should not be all zeros")
	}
}

func TestMessageEncodeDecodeRoundtrip(t *testing.T) {
	// Create a message
	msg, err := NewMessage(TypeBindingRequest)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	// Add some attributes
	msg.AddAttribute(Attribute{
		Type:   AttrSoftware,
		Length: 6,
		Value:  []byte("Altair"),
	})

	// Encode
	encoded, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// Decode
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	// Verify
	if decoded.Type != msg.Type {
		t.Errorf("type mismatch: expected %v, got %v", msg.Type, decoded.Type)
	}

	if decoded.TransactionID != msg.TransactionID {
		t.Error("transaction ID mismatch")
	}

	if len(decoded.Attributes) != len(msg.Attributes) {
		t.Errorf("attribute count mismatch: expected %d, got %d",
			len(msg.Attributes), len(decoded.Attributes))
	}

	// Verify attribute
	if attr, found := decoded.GetAttribute(AttrSoftware); found {
		if !bytes.Equal(attr.Value, []byte("Altair")) {
			t.Errorf("attribute value mismatch: expected 'Altair', got %q", attr.Value)
		}
	} else {
		t.Error("SOFTWARE attribute not found")
	}
}

func TestDecodeXORMappedAddressIPv4(t *testing.T) {
	// Create a known IPv4 address
	expectedIP := net.ParseIP("192.0.2.1")
	expectedPort := 32853

	// Create transaction ID
	var txID [TransactionIDSize]byte
	copy(txID[:], []byte("test12345678"))

	// Encode the address
	addr := &net.UDPAddr{
		IP:   expectedIP,
		Port: expectedPort,
	}
	attr := EncodeXORMappedAddress(addr, txID)

	// Decode it back
	decoded, err := DecodeXORMappedAddress(&attr, txID)
	if err != nil {
		t.Fatalf("DecodeXORMappedAddress failed: %v", err)
	}

	// Verify
	if !decoded.IP.Equal(expectedIP) {
		t.Errorf("IP mismatch: expected %v, got %v", expectedIP, decoded.IP)
	}

	if decoded.Port != expectedPort {
		t.Errorf("port mismatch: expected %d, got %d", expectedPort, decoded.Port)
	}
}

func TestDecodeXORMappedAddressIPv6(t *testing.T) {
	// Create a known IPv6 address
	expectedIP := net.ParseIP("2001:db8::1")
	expectedPort := 32853

	// Create transaction ID
	var txID [TransactionIDSize]byte
	copy(txID[:], []byte("test12345678"))

	// Encode the address
	addr := &net.UDPAddr{
		IP:   expectedIP,
		Port: expectedPort,
	}
	attr := EncodeXORMappedAddress(addr, txID)

	// Decode it back
	decoded, err := DecodeXORMappedAddress(&attr, txID)
	if err != nil {
		t.Fatalf("DecodeXORMappedAddress failed: %v", err)
	}

	// Verify
	if !decoded.IP.Equal(expectedIP) {
		t.Errorf("IP mismatch: expected %v, got %v", expectedIP, decoded.IP)
	}

	if decoded.Port != expectedPort {
		t.Errorf("port mismatch: expected %d, got %d", expectedPort, decoded.Port)
	}
}

func TestDecodeMappedAddress(t *testing.T) {
	expectedIP := net.ParseIP("203.0.113.1")
	expectedPort := 19302

	// Encode the address
	addr := &net.UDPAddr{
		IP:   expectedIP,
		Port: expectedPort,
	}
	attr := EncodeMappedAddress(addr)

	// Decode it back
	decoded, err := DecodeMappedAddress(&attr)
	if err != nil {
		t.Fatalf("DecodeMappedAddress failed: %v", err)
	}

	// Verify
	if !decoded.IP.Equal(expectedIP) {
		t.Errorf("IP mismatch: expected %v, got %v", expectedIP, decoded.IP)
	}

	if decoded.Port != expectedPort {
		t.Errorf("port mismatch: expected %d, got %d", expectedPort, decoded.Port)
	}
}

func TestMessageEncodeWithPadding(t *testing.T) {
	msg, err := NewMessage(TypeBindingRequest)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	// Add attribute with value that needs padding (5 bytes)
	msg.AddAttribute(Attribute{
		Type:   AttrSoftware,
		Length: 5,
		Value:  []byte("Hello"),
	})

	encoded, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// Message length should be padded to 4-byte boundary
	// Header (20) + Attr header (4) + Value (5) + Padding (3) = 32
	if len(encoded) != 32 {
		t.Errorf("expected length 32, got %d", len(encoded))
	}

	// Verify we can decode it back
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	attr, found := decoded.GetAttribute(AttrSoftware)
	if !found {
		t.Fatal("SOFTWARE attribute not found")
	}

	if !bytes.Equal(attr.Value, []byte("Hello")) {
		t.Errorf("value mismatch: expected 'Hello', got %q", attr.Value)
	}
}

func TestClientLocalAddr(t *testing.T) {
	// Create client with ephemeral port
	client, err := NewClient(&ClientConfig{
		ServerAddr: "stun.l.google.com:19302",
		Timeout:    5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	localAddr := client.LocalAddr()
	if localAddr == nil {
		t.Fatal("LocalAddr returned nil")
	}

	if localAddr.Port == 0 {
		t.Error("local port should not be 0")
	}
}

func TestMessageTypeString(t *testing.T) {
	tests := []struct {
		msgType  MessageType
		expected string
	}{
		{TypeBindingRequest, "Binding Request"},
		{TypeBindingSuccess, "Binding Success Response"},
		{TypeBindingError, "Binding Error Response"},
		{MessageType(0x9999), "Unknown (0x9999)"},
	}

	for _, tt := range tests {
		result := tt.msgType.String()
		if result != tt.expected {
			t.Errorf("MessageType.String() = %q, want %q", result, tt.expected)
		}
	}
}

func TestAttributeTypeString(t *testing.T) {
	tests := []struct {
		attrType AttributeType
		expected string
	}{
		{AttrMappedAddress, "MAPPED-ADDRESS"},
		{AttrXORMappedAddress, "XOR-MAPPED-ADDRESS"},
		{AttrSoftware, "SOFTWARE"},
		{AttributeType(0x9999), "Unknown (0x9999)"},
	}

	for _, tt := range tests {
		result := tt.attrType.String()
		if result != tt.expected {
			t.Errorf("AttributeType.String() = %q, want %q", result, tt.expected)
		}
	}
}

func TestDecodeInvalidMessage(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		decode func([]byte) (*Message, error)
	}{
		{
			name:   "too short",
			data:   []byte{0x00, 0x01},
			decode: Decode,
		},
		{
			// Decode reads a cookie-less header as legacy RFC-3489
			// framing, so the cookie check belongs to Decode5389.
			name:   "invalid magic cookie",
			decode: Decode5389,
			data: []byte{
				0x00, 0x01, // Type
				0x00, 0x00, // Length
				0xFF, 0xFF, 0xFF, 0xFF, // Invalid magic cookie
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // Transaction ID
				0x00, 0x00, 0x00, 0x00,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.decode(tt.data)
			if err == nil {
				t.Error("expected error for invalid message")
			}
		})
	}
}

func TestDecode3489LegacyHeader(t *testing.T) {
	// Hand-build a legacy RFC-3489 BindingRequest: 2-byte type, 2-byte
	// length, 16-byte transaction ID, no magic cookie, no attributes.
	data := make([]byte, 4+LegacyTransactionIDSize)
	data[0] = 0x00
	data[1] = 0x01 // TypeBindingRequest
	data[2] = 0x00
	data[3] = 0x00 // length = 0
	copy(data[4:], []byte("0123456789abcdef"))

	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !msg.Legacy {
		t.Error("expected Legacy to be true for RFC-3489 header")
	}
	if msg.Type != TypeBindingRequest {
		t.Errorf("type mismatch: got %v", msg.Type)
	}
	// Only the trailing 12 bytes of the 16-byte legacy transaction ID
	// are retained.
	if string(msg.TransactionID[:]) != "456789abcdef" {
		t.Errorf("transaction id = %q, want %q", msg.TransactionID[:], "456789abcdef")
	}
}

func TestDecode3489WithMappedAddress(t *testing.T) {
	addr := &net.UDPAddr{IP: net.ParseIP("198.51.100.7"), Port: 4500}
	mapped := EncodeMappedAddress(addr)
	attrBytes := buildLegacyAttr(t, mapped)

	data := make([]byte, 0, 4+LegacyTransactionIDSize+len(attrBytes))
	data = append(data, 0x01, 0x01) // TypeBindingSuccess
	data = append(data, byte(len(attrBytes)>>8), byte(len(attrBytes)))
	data = append(data, []byte("fedcba9876543210")...)
	data = append(data, attrBytes...)

	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	attr, found := msg.GetAttribute(AttrMappedAddress)
	if !found {
		t.Fatal("MAPPED-ADDRESS attribute not found")
	}
	decoded, err := DecodeMappedAddress(attr)
	if err != nil {
		t.Fatalf("DecodeMappedAddress failed: %v", err)
	}
	if !decoded.IP.Equal(addr.IP) || decoded.Port != addr.Port {
		t.Errorf("address mismatch: got %v, want %v", decoded, addr)
	}
}

// buildLegacyAttr encodes a single attribute using the 4-byte
// tag+length header, no padding — matching RFC-3489 framing.
func buildLegacyAttr(t *testing.T, attr Attribute) []byte {
	t.Helper()
	out := make([]byte, 4+len(attr.Value))
	out[0] = byte(attr.Type >> 8)
	out[1] = byte(attr.Type)
	out[2] = byte(len(attr.Value) >> 8)
	out[3] = byte(len(attr.Value))
	copy(out[4:], attr.Value)
	return out
}

func TestRegistryDecodeKnownAttribute(t *testing.T) {
	attr := Attribute{Type: AttrSoftware, Value: []byte("dim-node")}
	decoded, err := DecodeAttribute(attr)
	if err != nil {
		t.Fatalf("DecodeAttribute failed: %v", err)
	}
	if decoded.(string) != "dim-node" {
		t.Errorf("decoded = %v, want %q", decoded, "dim-node")
	}
}

func TestRegistryDecodeUnknownAttributeReturnsRaw(t *testing.T) {
	raw := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	attr := Attribute{Type: AttributeType(0x7FFE), Value: raw}
	decoded, err := DecodeAttribute(attr)
	if err != nil {
		t.Fatalf("unexpected error for unknown attribute: %v", err)
	}
	if !bytes.Equal(decoded.([]byte), raw) {
		t.Errorf("decoded = %v, want raw bytes %v", decoded, raw)
	}
}

func TestRegistryDecodeChangeRequest(t *testing.T) {
	encoded := EncodeChangeRequest(true, false)
	decoded, err := DecodeAttribute(encoded)
	if err != nil {
		t.Fatalf("DecodeAttribute failed: %v", err)
	}
	flags, ok := decoded.(struct{ ChangeIP, ChangePort bool })
	if !ok {
		t.Fatalf("unexpected decoded type: %T", decoded)
	}
	if !flags.ChangeIP || flags.ChangePort {
		t.Errorf("flags = %+v, want ChangeIP=true ChangePort=false", flags)
	}
}

func TestRegistryIsStableAcrossCalls(t *testing.T) {
	first := Registry()
	second := Registry()
	if len(first) != len(second) {
		t.Fatalf("registry size changed between calls: %d vs %d", len(first), len(second))
	}
	if _, ok := first[AttrXORMappedAddress]; !ok {
		t.Error("expected XOR-MAPPED-ADDRESS decoder to be registered")
	}
}

func TestLifetimeRoundtrip(t *testing.T) {
	attr := EncodeLifetime(3600)
	got, err := DecodeLifetime(&attr)
	if err != nil {
		t.Fatalf("DecodeLifetime failed: %v", err)
	}
	if got != 3600 {
		t.Errorf("lifetime = %d, want 3600", got)
	}
}

func TestXORPeerAndRelayedAddressRoundtrip(t *testing.T) {
	var txID [TransactionIDSize]byte
	copy(txID[:], []byte("peertxn12345"))
	addr := &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 5000}

	peerAttr := EncodeXORPeerAddress(addr, txID)
	decodedPeer, err := DecodeXORPeerAddress(&peerAttr, txID)
	if err != nil {
		t.Fatalf("DecodeXORPeerAddress failed: %v", err)
	}
	if !decodedPeer.IP.Equal(addr.IP) || decodedPeer.Port != addr.Port {
		t.Errorf("peer address mismatch: got %v, want %v", decodedPeer, addr)
	}

	relayedAttr := EncodeXORRelayedAddress(addr, txID)
	decodedRelayed, err := DecodeXORRelayedAddress(&relayedAttr, txID)
	if err != nil {
		t.Fatalf("DecodeXORRelayedAddress failed: %v", err)
	}
	if !decodedRelayed.IP.Equal(addr.IP) || decodedRelayed.Port != addr.Port {
		t.Errorf("relayed address mismatch: got %v, want %v", decodedRelayed, addr)
	}
}

func TestServerReflectsBindingRequest(t *testing.T) {
	server, err := NewServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer server.Close()

	go server.Serve()

	conn, err := net.DialUDP("udp", nil, server.LocalAddr())
	if err != nil {
		t.Fatalf("DialUDP failed: %v", err)
	}
	defer conn.Close()

	req, err := NewMessage(TypeBindingRequest)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	encoded, err := req.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, err := conn.Write(encoded); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp := make([]byte, 1500)
	n, err := conn.Read(resp)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	msg, err := Decode(resp[:n])
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.Type != TypeBindingSuccess {
		t.Errorf("type = %v, want BindingSuccess", msg.Type)
	}
	if msg.TransactionID != req.TransactionID {
		t.Error("transaction ID mismatch in reflected response")
	}

	attr, found := msg.GetAttribute(AttrXORMappedAddress)
	if !found {
		t.Fatal("XOR-MAPPED-ADDRESS attribute not found in response")
	}
	mapped, err := DecodeXORMappedAddress(attr, msg.TransactionID)
	if err != nil {
		t.Fatalf("DecodeXORMappedAddress failed: %v", err)
	}
	if !mapped.IP.IsLoopback() {
		t.Errorf("mapped IP = %v, want loopback", mapped.IP)
	}
	if mapped.Port != conn.LocalAddr().(*net.UDPAddr).Port {
		t.Errorf("mapped port = %d, want %d", mapped.Port, conn.LocalAddr().(*net.UDPAddr).Port)
	}
}

func TestEndpointString(t *testing.T) {
	endpoint := &Endpoint{
		LocalAddr:  &net.UDPAddr{IP: net.ParseIP("192.168.1.100"), Port: 12345},
		PublicAddr: &net.UDPAddr{IP: net.ParseIP("203.0.113.1"), Port: 54321},
		ServerAddr: &net.UDPAddr{IP: net.ParseIP("stun.example.com"), Port: 19302},
	}

	result := endpoint.String()
	if result == "" {
		t.Error("Endpoint.String() returned empty string")
	}

	// Should contain all addresses
	if !bytes.Contains([]byte(result), []byte("192.168.1.100")) {
		t.Error("result should contain local address")
	}
	if !bytes.Contains([]byte(result), []byte("203.0.113.1")) {
		t.Error("result should contain public address")
	}
}

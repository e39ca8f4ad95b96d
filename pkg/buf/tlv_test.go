package buf

import "testing"

func TestParseEncodeSTUNRoundtrip(t *testing.T) {
	value := []byte{0x01, 0x02, 0x03}
	encoded := Encode(0x0006, value, STUNFamily)

	tlvs, residual := Parse(New(encoded), STUNFamily)
	if residual != 0 {
		t.Fatalf("unexpected residual: %d", residual)
	}
	if len(tlvs) != 1 {
		t.Fatalf("expected 1 tlv, got %d", len(tlvs))
	}
	if tlvs[0].Tag != 0x0006 {
		t.Errorf("tag = 0x%04x, want 0x0006", tlvs[0].Tag)
	}
	if !New(value).Equal(tlvs[0].Value) {
		t.Errorf("value = %v, want %v", tlvs[0].Value.Bytes(), value)
	}
}

func TestParseDMTPRoundtrip(t *testing.T) {
	encoded := Encode(0x01, []byte("alice"), DMTPFamily)
	tlvs, residual := Parse(New(encoded), DMTPFamily)
	if residual != 0 {
		t.Fatalf("unexpected residual: %d", residual)
	}
	if string(tlvs[0].Value.Bytes()) != "alice" {
		t.Errorf("value = %q, want %q", tlvs[0].Value.Bytes(), "alice")
	}
}

func TestParseTruncatedReturnsWellFormedPrefix(t *testing.T) {
	ok := Encode(0x0001, []byte{0xAA}, DMTPFamily)
	truncated := append(append([]byte{}, ok...), Encode(0x0002, []byte{0xBB, 0xCC}, DMTPFamily)...)
	truncated = truncated[:len(truncated)-1] // cut the last byte of the second TLV's value

	tlvs, residual := Parse(New(truncated), DMTPFamily)
	if len(tlvs) != 1 {
		t.Fatalf("expected 1 well-formed tlv, got %d", len(tlvs))
	}
	if residual == 0 {
		t.Error("expected nonzero residual for truncated input")
	}
}

func TestParseUnknownTagDoesNotAbort(t *testing.T) {
	a := Encode(0xFFFF, []byte("x"), DMTPFamily)
	b := Encode(0x0001, []byte("y"), DMTPFamily)
	combined := append(append([]byte{}, a...), b...)

	tlvs, residual := Parse(New(combined), DMTPFamily)
	if residual != 0 {
		t.Fatalf("unexpected residual: %d", residual)
	}
	if len(tlvs) != 2 {
		t.Fatalf("expected 2 tlvs, got %d", len(tlvs))
	}
}

func TestPad4Padding(t *testing.T) {
	encoded := Encode(0x0001, []byte{0x01, 0x02, 0x03}, STUNFamily)
	// header(4) + value(3) padded to 4 = 8
	if len(encoded) != 8 {
		t.Fatalf("encoded length = %d, want 8", len(encoded))
	}
}

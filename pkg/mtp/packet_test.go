package mtp

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestPackageEncodeParseRoundtrip(t *testing.T) {
	body := []byte("hello dim")
	pkg := CreatePackage(TypeCommand, 7, body)

	encoded := pkg.Encode()
	decoded, err := ParsePackage(encoded)
	if err != nil {
		t.Fatalf("ParsePackage failed: %v", err)
	}

	if decoded.Head != pkg.Head {
		t.Errorf("header mismatch: got %+v, want %+v", decoded.Head, pkg.Head)
	}
	if !bytes.Equal(decoded.Body, pkg.Body) {
		t.Errorf("body mismatch: got %q, want %q", decoded.Body, pkg.Body)
	}
}

func TestParsePackageRejectsBadMagic(t *testing.T) {
	data := make([]byte, HeaderSize)
	copy(data, "XXXX")
	if _, err := ParsePackage(data); err == nil {
		t.Error("expected error for bad magic")
	}
}

func TestParsePackageRejectsUnsupportedVersion(t *testing.T) {
	pkg := CreatePackage(TypeCommand, 1, []byte("x"))
	encoded := pkg.Encode()
	encoded[4] = 99
	if _, err := ParsePackage(encoded); err == nil {
		t.Error("expected error for unsupported version")
	}
}

func TestParsePackageRejectsTruncatedBody(t *testing.T) {
	pkg := CreatePackage(TypeCommand, 1, []byte("hello"))
	encoded := pkg.Encode()
	truncated := encoded[:len(encoded)-2]
	if _, err := ParsePackage(truncated); err == nil {
		t.Error("expected error for truncated body")
	}
}

func TestSplitUnderCapIsNoOp(t *testing.T) {
	pkg := CreatePackage(TypeMessage, 1, make([]byte, MaxBodyLen))
	fragments, err := pkg.Split()
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if len(fragments) != 1 {
		t.Fatalf("expected 1 fragment for exactly-MaxBodyLen body, got %d", len(fragments))
	}
	if fragments[0].Head.Type != TypeMessage {
		t.Errorf("unfragmented split result should keep TypeMessage, got %v", fragments[0].Head.Type)
	}
}

func TestSplitAssembleRoundtrip(t *testing.T) {
	body := make([]byte, MaxBodyLen*3+17)
	if _, err := rand.Read(body); err != nil {
		t.Fatalf("rand.Read failed: %v", err)
	}

	pkg := CreatePackage(TypeMessage, 42, body)
	fragments, err := pkg.Split()
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if len(fragments) != 4 {
		t.Fatalf("expected 4 fragments, got %d", len(fragments))
	}
	for i, frag := range fragments {
		if frag.Head.Pages != 4 {
			t.Errorf("fragment %d pages = %d, want 4", i, frag.Head.Pages)
		}
		if frag.Head.SN != 42 {
			t.Errorf("fragment %d sn = %d, want 42", i, frag.Head.SN)
		}
	}

	assembled, err := AssemblePackages(fragments)
	if err != nil {
		t.Fatalf("AssemblePackages failed: %v", err)
	}
	if !bytes.Equal(assembled.Body, body) {
		t.Error("assembled body does not match original")
	}
	if assembled.Head.Type != TypeMessage || assembled.Head.Pages != 1 {
		t.Errorf("assembled header wrong: %+v", assembled.Head)
	}
}

func TestAssembleOutOfOrderFragments(t *testing.T) {
	body := make([]byte, MaxBodyLen*2+1)
	for i := range body {
		body[i] = byte(i)
	}
	pkg := CreatePackage(TypeMessage, 9, body)
	fragments, err := pkg.Split()
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	shuffled := []*Package{fragments[2], fragments[0], fragments[1]}
	assembled, err := AssemblePackages(shuffled)
	if err != nil {
		t.Fatalf("AssemblePackages failed: %v", err)
	}
	if !bytes.Equal(assembled.Body, body) {
		t.Error("assembly order must not depend on fragment arrival order")
	}
}

func TestAssembleMissingFragmentFails(t *testing.T) {
	pkg := CreatePackage(TypeMessage, 1, make([]byte, MaxBodyLen*2+1))
	fragments, _ := pkg.Split()
	if _, err := AssemblePackages(fragments[:2]); err == nil {
		t.Error("expected error when a fragment is missing")
	}
}

func TestFragmentAckBodyRoundtrip(t *testing.T) {
	body := FragmentAckBody(3, 1)
	pages, offset, ok := ParseFragmentAckBody(body)
	if !ok {
		t.Fatal("ParseFragmentAckBody failed to parse valid body")
	}
	if pages != 3 || offset != 1 {
		t.Errorf("got pages=%d offset=%d, want pages=3 offset=1", pages, offset)
	}
}

func TestParseFragmentAckBodyRejectsPlainOK(t *testing.T) {
	if _, _, ok := ParseFragmentAckBody([]byte("OK")); ok {
		t.Error("a plain 2-byte OK body should not parse as a fragment ack")
	}
}

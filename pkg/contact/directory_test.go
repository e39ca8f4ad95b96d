package contact

import (
	"net"
	"testing"
	"time"
)

func udpAddr(ip string, port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
}

func fakeEncode(a *net.UDPAddr) []byte {
	return []byte(a.String())
}

type alwaysValidSig struct{}

func (alwaysValidSig) Sign(data []byte) []byte          { return append([]byte("sig:"), data...) }
func (alwaysValidSig) Verify(data []byte, sig []byte) bool {
	expected := append([]byte("sig:"), data...)
	if len(expected) != len(sig) {
		return false
	}
	for i := range expected {
		if expected[i] != sig[i] {
			return false
		}
	}
	return true
}

func signedLocation(d *Directory, sig SignatureProvider, l *Location) *Location {
	l.Signature = sig.Sign(l.CanonicalBytes(fakeEncode))
	return l
}

func TestStoreLocationRejectsMissingRequiredFields(t *testing.T) {
	dir := NewDirectory(alwaysValidSig{}, fakeEncode)
	l := &Location{Identifier: "alice", Timestamp: 100} // missing Source
	if dir.StoreLocation(l) {
		t.Error("expected rejection for missing Source")
	}
}

func TestStoreLocationRejectsBadSignature(t *testing.T) {
	dir := NewDirectory(alwaysValidSig{}, fakeEncode)
	l := &Location{
		Identifier: "alice",
		Source:     udpAddr("10.0.0.1", 1),
		Timestamp:  100,
		Signature:  []byte("not-a-real-signature"),
	}
	if dir.StoreLocation(l) {
		t.Error("expected rejection for invalid signature")
	}
}

func TestStoreLocationAcceptsAndOrders(t *testing.T) {
	sig := alwaysValidSig{}
	dir := NewDirectory(sig, fakeEncode)

	l1 := signedLocation(dir, sig, &Location{
		Identifier: "alice", Source: udpAddr("10.0.0.1", 1), Mapped: udpAddr("1.2.3.4", 9), Timestamp: 100,
	})
	if !dir.StoreLocation(l1) {
		t.Fatal("expected first location to be accepted")
	}

	l2 := signedLocation(dir, sig, &Location{
		Identifier: "alice", Source: udpAddr("10.0.0.2", 2), Mapped: udpAddr("1.2.3.5", 10), Timestamp: 50,
	})
	if !dir.StoreLocation(l2) {
		t.Fatal("expected second (different pair) location to be accepted")
	}

	locs := dir.GetLocations("alice")
	if len(locs) != 2 {
		t.Fatalf("expected 2 locations, got %d", len(locs))
	}
	if locs[0].Timestamp != 50 || locs[1].Timestamp != 100 {
		t.Errorf("expected timestamp-ascending order, got %d, %d", locs[0].Timestamp, locs[1].Timestamp)
	}
}

func TestStoreLocationRejectsStaleTimestampForSamePair(t *testing.T) {
	sig := alwaysValidSig{}
	dir := NewDirectory(sig, fakeEncode)

	src := udpAddr("10.0.0.1", 1)
	mapped := udpAddr("1.2.3.4", 9)

	first := signedLocation(dir, sig, &Location{Identifier: "alice", Source: src, Mapped: mapped, Timestamp: 100})
	dir.StoreLocation(first)

	stale := signedLocation(dir, sig, &Location{Identifier: "alice", Source: src, Mapped: mapped, Timestamp: 50})
	if dir.StoreLocation(stale) {
		t.Error("expected rejection of a stale timestamp for the same (source, mapped) pair")
	}

	newer := signedLocation(dir, sig, &Location{Identifier: "alice", Source: src, Mapped: mapped, Timestamp: 200})
	if !dir.StoreLocation(newer) {
		t.Fatal("expected acceptance of a newer timestamp")
	}
	locs := dir.GetLocations("alice")
	if len(locs) != 1 || locs[0].Timestamp != 200 {
		t.Errorf("expected the single record replaced with ts=200, got %+v", locs)
	}
}

func TestClearLocationRemovesMatchingPair(t *testing.T) {
	sig := alwaysValidSig{}
	dir := NewDirectory(sig, fakeEncode)

	src := udpAddr("10.0.0.1", 1)
	mapped := udpAddr("1.2.3.4", 9)
	l := signedLocation(dir, sig, &Location{Identifier: "alice", Source: src, Mapped: mapped, Timestamp: 100})
	dir.StoreLocation(l)

	clear := signedLocation(dir, sig, &Location{Identifier: "alice", Source: src, Mapped: mapped, Timestamp: 100})
	if !dir.ClearLocation(clear) {
		t.Fatal("expected ClearLocation to succeed")
	}
	if locs := dir.GetLocations("alice"); len(locs) != 0 {
		t.Errorf("expected no remaining locations, got %d", len(locs))
	}
}

func TestPurgeWithoutPeerUsesTimestampRule(t *testing.T) {
	sig := alwaysValidSig{}
	dir := NewDirectory(sig, fakeEncode)

	now := time.Now()
	stale := signedLocation(dir, sig, &Location{
		Identifier: "alice", Source: udpAddr("10.0.0.1", 1), Mapped: udpAddr("1.2.3.4", 9),
		Timestamp: uint32(now.Add(-25 * time.Hour).Unix()),
	})
	dir.StoreLocation(stale)
	fresh := signedLocation(dir, sig, &Location{
		Identifier: "bob", Source: udpAddr("10.0.0.2", 2), Mapped: udpAddr("1.2.3.5", 10),
		Timestamp: uint32(now.Add(-time.Hour).Unix()),
	})
	dir.StoreLocation(fresh)

	dir.Purge(now, "", nil)

	if locs := dir.GetLocations("alice"); len(locs) != 0 {
		t.Errorf("expected alice's stale location purged, got %d", len(locs))
	}
	if locs := dir.GetLocations("bob"); len(locs) != 1 {
		t.Errorf("expected bob's fresh location to survive, got %d", len(locs))
	}
}

type fakeChecker struct {
	alive map[string]bool
}

func (c *fakeChecker) IsAlive(addr net.Addr) bool {
	return c.alive[addr.String()]
}

func TestPurgeWithPeerUsesConnectionLiveness(t *testing.T) {
	sig := alwaysValidSig{}
	dir := NewDirectory(sig, fakeEncode)

	now := time.Now()
	src := udpAddr("10.0.0.1", 1)
	mapped := udpAddr("1.2.3.4", 9)
	// Old by timestamp, but the connection is still alive.
	l := signedLocation(dir, sig, &Location{
		Identifier: "alice", Source: src, Mapped: mapped,
		Timestamp: uint32(now.Add(-48 * time.Hour).Unix()),
	})
	dir.StoreLocation(l)

	checker := &fakeChecker{alive: map[string]bool{src.String(): true}}
	dir.Purge(now, "alice", checker)

	if locs := dir.GetLocations("alice"); len(locs) != 1 {
		t.Errorf("expected location kept via live connection despite age, got %d", len(locs))
	}

	checker.alive[src.String()] = false
	dir.Purge(now, "alice", checker)
	if locs := dir.GetLocations("alice"); len(locs) != 0 {
		t.Errorf("expected location dropped once neither address is alive, got %d", len(locs))
	}
}

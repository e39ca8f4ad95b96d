// Package contact implements the contact directory: per-identifier
// lists of signed location records, used by DMTP to answer CALL/FROM
// exchanges.
package contact

import (
	"net"
	"sort"
	"sync"
	"time"
)

// ExpiresSeconds is the purge threshold (86400s = 24h) applied when no
// connection liveness information is available for a peer.
const ExpiresSeconds = 24 * 60 * 60

// SignatureProvider signs and verifies the canonical bytes of a
// location record. Signing itself is an external collaborator; this
// package only calls through the interface.
type SignatureProvider interface {
	Sign(data []byte) []byte
	Verify(data []byte, sig []byte) bool
}

// ConnectionChecker reports whether addr currently maps to a live
// (non-errored) connection, so Purge can keep locations that are still
// reachable even past the timestamp-based expiry window.
type ConnectionChecker interface {
	IsAlive(addr net.Addr) bool
}

// Location is one signed record of where an identifier can be reached.
type Location struct {
	Identifier string
	Source     *net.UDPAddr // required for storage
	Mapped     *net.UDPAddr
	Relayed    *net.UDPAddr
	Timestamp  uint32 // required for storage
	Signature  []byte
	NATType    string
}

// CanonicalBytes returns the byte layout a SignatureProvider signs and
// verifies: source ‖ mapped ‖ relayed ‖ big-endian timestamp, each
// address in the STUN MAPPED-ADDRESS 8/20-byte form, omitted fields
// contributing no bytes.
func (l *Location) CanonicalBytes(encodeAddr func(*net.UDPAddr) []byte) []byte {
	var out []byte
	if l.Source != nil {
		out = append(out, encodeAddr(l.Source)...)
	}
	if l.Mapped != nil {
		out = append(out, encodeAddr(l.Mapped)...)
	}
	if l.Relayed != nil {
		out = append(out, encodeAddr(l.Relayed)...)
	}
	out = append(out,
		byte(l.Timestamp>>24), byte(l.Timestamp>>16), byte(l.Timestamp>>8), byte(l.Timestamp))
	return out
}

func pairKey(l *Location) (string, bool) {
	if l.Source == nil {
		return "", false
	}
	mapped := ""
	if l.Mapped != nil {
		mapped = l.Mapped.String()
	}
	return l.Source.String() + "|" + mapped, true
}

// Contact is one identifier's timestamp-ascending location list.
type Contact struct {
	Identifier string
	Locations  []*Location
}

// Directory is the reader-writer-protected map of identifier to
// Contact.
type Directory struct {
	mu       sync.RWMutex
	contacts map[string]*Contact

	sig        SignatureProvider
	encodeAddr func(*net.UDPAddr) []byte
}

// NewDirectory creates an empty directory. encodeAddr encodes a
// *net.UDPAddr into the STUN MAPPED-ADDRESS bytes used for signing
// (typically dmtp.EncodeAddress); sig may be nil to accept every
// record unverified (tests only).
func NewDirectory(sig SignatureProvider, encodeAddr func(*net.UDPAddr) []byte) *Directory {
	return &Directory{
		contacts:   make(map[string]*Contact),
		sig:        sig,
		encodeAddr: encodeAddr,
	}
}

func (d *Directory) verify(l *Location) bool {
	if d.sig == nil {
		return true
	}
	return d.sig.Verify(l.CanonicalBytes(d.encodeAddr), l.Signature)
}

// StoreLocation verifies the record's signature, rejects it if a
// required field is missing or its timestamp doesn't advance the most
// recent record for the same (source, mapped) pair, and otherwise
// replaces that pair's prior records and keeps the list
// timestamp-ascending.
func (d *Directory) StoreLocation(l *Location) bool {
	if l.Identifier == "" || l.Source == nil || l.Timestamp == 0 {
		return false
	}
	if !d.verify(l) {
		return false
	}

	key, hasPair := pairKey(l)

	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.contacts[l.Identifier]
	if !ok {
		c = &Contact{Identifier: l.Identifier}
		d.contacts[l.Identifier] = c
	}

	if hasPair {
		for _, existing := range c.Locations {
			if k, ok := pairKey(existing); ok && k == key && existing.Timestamp >= l.Timestamp {
				return false
			}
		}
		kept := c.Locations[:0]
		for _, existing := range c.Locations {
			if k, ok := pairKey(existing); ok && k == key {
				continue
			}
			kept = append(kept, existing)
		}
		c.Locations = kept
	}

	c.Locations = append(c.Locations, l)
	sort.Slice(c.Locations, func(i, j int) bool {
		return c.Locations[i].Timestamp < c.Locations[j].Timestamp
	})
	return true
}

// ClearLocation verifies the record's signature and removes every
// stored record matching (source, mapped).
func (d *Directory) ClearLocation(l *Location) bool {
	if !d.verify(l) {
		return false
	}
	key, hasPair := pairKey(l)
	if !hasPair {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.contacts[l.Identifier]
	if !ok {
		return true
	}
	kept := c.Locations[:0]
	for _, existing := range c.Locations {
		if k, ok := pairKey(existing); ok && k == key {
			continue
		}
		kept = append(kept, existing)
	}
	c.Locations = kept
	return true
}

// GetLocations returns a snapshot of id's stored locations,
// timestamp-ascending.
func (d *Directory) GetLocations(id string) []*Location {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.contacts[id]
	if !ok {
		return nil
	}
	out := make([]*Location, len(c.Locations))
	copy(out, c.Locations)
	return out
}

// Purge drops stale locations. With peer == "", the timestamp rule
// applies across every identifier: a location survives only if
// now <= timestamp + ExpiresSeconds. With peer set, only that
// identifier's locations are considered, and a location survives iff
// either its source or mapped address currently maps to a live
// connection per checker (age is irrelevant in that case).
func (d *Directory) Purge(now time.Time, peer string, checker ConnectionChecker) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if peer != "" {
		c, ok := d.contacts[peer]
		if !ok {
			return
		}
		kept := c.Locations[:0]
		for _, l := range c.Locations {
			if checker != nil && ((l.Source != nil && checker.IsAlive(l.Source)) ||
				(l.Mapped != nil && checker.IsAlive(l.Mapped))) {
				kept = append(kept, l)
			}
		}
		if len(kept) == 0 {
			delete(d.contacts, peer)
			return
		}
		c.Locations = kept
		return
	}

	cutoff := uint32(now.Unix()) - ExpiresSeconds
	for id, c := range d.contacts {
		kept := c.Locations[:0]
		for _, l := range c.Locations {
			if l.Timestamp >= cutoff {
				kept = append(kept, l)
			}
		}
		if len(kept) == 0 {
			delete(d.contacts, id)
			continue
		}
		c.Locations = kept
	}
}

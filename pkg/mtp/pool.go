package mtp

import (
	"net"
	"sync"
	"time"
)

// Departure is an outbound task awaiting acknowledgement. For a Message
// larger than MaxBodyLen, Packages holds every fragment sharing SN; each
// is retired independently as its MessageRespond arrives.
type Departure struct {
	SN          uint32
	Type        Type
	Destination net.Addr
	Source      net.Addr
	Packages    []*Package
	LastTry     time.Time
	TriesLeft   int
}

// Arrival is one received datagram awaiting dispatch.
type Arrival struct {
	Payload     []byte
	Source      net.Addr
	Destination net.Addr
}

// AssembleSlot is a per-SN fragment reassembly slot.
type AssembleSlot struct {
	SN        uint32
	Source    net.Addr
	Fragments map[uint32]*Package
	Pages     uint32
	FirstSeen time.Time
}

// Pool holds the arrival queue, departure queue, and fragment reassembly
// pool the Engine's dispatch loop drains. Each collection follows
// spec.md's single-writer/multi-reader discipline; the Engine's dispatch
// loop is the sole consumer of arrivals and departures.
type Pool struct {
	arrivalMu sync.Mutex
	arrivals  []Arrival

	departureMu sync.Mutex
	departures  []*Departure

	assembleMu sync.Mutex
	assemblies map[uint32]*AssembleSlot // keyed by sn

	reassemblyTimeout time.Duration
}

// NewPool creates an empty Pool. reassemblyTimeout bounds how long a
// partial fragment set is kept before DiscardFragments reclaims it.
func NewPool(reassemblyTimeout time.Duration) *Pool {
	return &Pool{
		assemblies:        make(map[uint32]*AssembleSlot),
		reassemblyTimeout: reassemblyTimeout,
	}
}

// AppendArrival enqueues a received datagram.
func (p *Pool) AppendArrival(a Arrival) {
	p.arrivalMu.Lock()
	defer p.arrivalMu.Unlock()
	p.arrivals = append(p.arrivals, a)
}

// ShiftFirstArrival removes and returns the oldest arrival, if any.
func (p *Pool) ShiftFirstArrival() (Arrival, bool) {
	p.arrivalMu.Lock()
	defer p.arrivalMu.Unlock()
	if len(p.arrivals) == 0 {
		return Arrival{}, false
	}
	a := p.arrivals[0]
	p.arrivals = p.arrivals[1:]
	return a, true
}

// CountArrivals returns the number of arrivals currently queued.
func (p *Pool) CountArrivals() int {
	p.arrivalMu.Lock()
	defer p.arrivalMu.Unlock()
	return len(p.arrivals)
}

// AppendDeparture enqueues an outbound task awaiting acknowledgement.
func (p *Pool) AppendDeparture(d *Departure) {
	p.departureMu.Lock()
	defer p.departureMu.Unlock()
	p.departures = append(p.departures, d)
}

// ShiftExpiredDeparture pops the first departure whose retry timer has
// elapsed relative to now, or (false) if none has expired yet.
func (p *Pool) ShiftExpiredDeparture(now time.Time, retryInterval time.Duration) (*Departure, bool) {
	p.departureMu.Lock()
	defer p.departureMu.Unlock()
	for i, d := range p.departures {
		if now.Sub(d.LastTry) >= retryInterval {
			p.departures = append(p.departures[:i], p.departures[i+1:]...)
			return d, true
		}
	}
	return nil, false
}

// RequeueDeparture reinserts a departure (e.g. after a retried send) so
// it is considered again on its next expiry.
func (p *Pool) RequeueDeparture(d *Departure) {
	p.departureMu.Lock()
	defer p.departureMu.Unlock()
	p.departures = append(p.departures, d)
}

// DeleteDeparture removes the departure matching sn (and, for fragment
// acks, the single package at offset) returning it if found.
func (p *Pool) DeleteDeparture(sn uint32, offset uint32, hasOffset bool) (*Departure, bool) {
	p.departureMu.Lock()
	defer p.departureMu.Unlock()

	for i, d := range p.departures {
		if d.SN != sn {
			continue
		}
		if !hasOffset {
			p.departures = append(p.departures[:i], p.departures[i+1:]...)
			return d, true
		}

		remaining := d.Packages[:0]
		var removed bool
		for _, pkg := range d.Packages {
			if pkg.Head.Offset == offset && !removed {
				removed = true
				continue
			}
			remaining = append(remaining, pkg)
		}
		d.Packages = remaining
		if len(d.Packages) == 0 {
			p.departures = append(p.departures[:i], p.departures[i+1:]...)
		}
		if removed {
			return d, true
		}
		return nil, false
	}
	return nil, false
}

// InsertFragment inserts a fragment into its SN's reassembly slot,
// creating the slot on first sight. Duplicate offsets within one slot
// are idempotent: first wins, later duplicates are silently discarded.
// Returns the assembled Package once every offset in [0, pages) has
// arrived, or nil if the slot is still incomplete.
func (p *Pool) InsertFragment(frag *Package, source net.Addr) (*Package, error) {
	p.assembleMu.Lock()
	defer p.assembleMu.Unlock()

	slot, ok := p.assemblies[frag.Head.SN]
	if !ok {
		slot = &AssembleSlot{
			SN:        frag.Head.SN,
			Source:    source,
			Fragments: make(map[uint32]*Package),
			Pages:     frag.Head.Pages,
			FirstSeen: time.Now(),
		}
		p.assemblies[frag.Head.SN] = slot
	}

	if _, exists := slot.Fragments[frag.Head.Offset]; !exists {
		slot.Fragments[frag.Head.Offset] = frag
	}

	if uint32(len(slot.Fragments)) < slot.Pages {
		return nil, nil
	}

	ordered := make([]*Package, slot.Pages)
	for offset, pkg := range slot.Fragments {
		ordered[offset] = pkg
	}
	delete(p.assemblies, frag.Head.SN)

	return AssemblePackages(ordered)
}

// CountDepartures returns the number of departures currently pending.
func (p *Pool) CountDepartures() int {
	p.departureMu.Lock()
	defer p.departureMu.Unlock()
	return len(p.departures)
}

// CountAssemblies returns the number of in-progress fragment reassembly
// slots.
func (p *Pool) CountAssemblies() int {
	p.assembleMu.Lock()
	defer p.assembleMu.Unlock()
	return len(p.assemblies)
}

// DiscardFragments removes and returns every assembly slot older than
// the pool's reassembly timeout.
func (p *Pool) DiscardFragments() []*AssembleSlot {
	p.assembleMu.Lock()
	defer p.assembleMu.Unlock()

	now := time.Now()
	var stale []*AssembleSlot
	for sn, slot := range p.assemblies {
		if now.Sub(slot.FirstSeen) >= p.reassemblyTimeout {
			stale = append(stale, slot)
			delete(p.assemblies, sn)
		}
	}
	return stale
}

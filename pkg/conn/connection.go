// Package conn implements the UDP socket wrapper and connection-state
// tracker: one datagram socket, a set of tracked peer connections each
// with sent/received timestamps and a derived status, and a bounded
// receive cache feeding the MTP engine.
package conn

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Status is a connection's derived liveness label, a pure function of
// (now, last_sent, last_received).
type Status int

const (
	Default Status = iota
	Connecting
	Connected
	Maintaining
	Expired
	Error
)

func (s Status) String() string {
	switch s {
	case Default:
		return "Default"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Maintaining:
		return "Maintaining"
	case Expired:
		return "Expired"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// Timing constants in seconds, per the activity windows a connection's
// status is derived from.
const (
	ExpiresSeconds     = 28
	LongExpiresSeconds = 120
)

var (
	expires     = ExpiresSeconds * time.Second
	longExpires = LongExpiresSeconds * time.Second
)

// Connection tracks one remote peer's liveness. Timestamps are stored as
// atomic unix nanos so status can be computed by loading both without a
// write lock per send/receive.
type Connection struct {
	RemoteAddr net.Addr
	LocalAddr  net.Addr

	lastSent     atomic.Int64
	lastReceived atomic.Int64
}

// NewConnection creates a connection with no recorded activity.
func NewConnection(remote, local net.Addr) *Connection {
	return &Connection{RemoteAddr: remote, LocalAddr: local}
}

func (c *Connection) markSent(at time.Time) {
	c.lastSent.Store(at.UnixNano())
}

func (c *Connection) markReceived(at time.Time) {
	c.lastReceived.Store(at.UnixNano())
}

// LastSent returns the last-sent time, or the zero Time if never sent.
func (c *Connection) LastSent() time.Time {
	return timeFromNano(c.lastSent.Load())
}

// LastReceived returns the last-received time, or the zero Time if
// never received.
func (c *Connection) LastReceived() time.Time {
	return timeFromNano(c.lastReceived.Load())
}

func timeFromNano(nanos int64) time.Time {
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// StatusAt computes the connection's status as of now. It loads both
// timestamps once so the two comparisons below see a consistent
// snapshot, even though each timestamp is updated independently.
func (c *Connection) StatusAt(now time.Time) Status {
	sent := timeFromNano(c.lastSent.Load())
	received := timeFromNano(c.lastReceived.Load())

	sentRecently := !sent.IsZero() && now.Sub(sent) <= expires
	receivedRecently := !received.IsZero() && now.Sub(received) <= expires
	receivedLongAgo := !received.IsZero() && now.Sub(received) > longExpires

	if sentRecently {
		switch {
		case receivedRecently:
			return Connected
		case received.IsZero():
			return Connecting
		case receivedLongAgo:
			return Expired
		default:
			// Received, but neither recently nor long ago: the spec
			// names this zone only implicitly. Treated as Connecting
			// since the send side is still active and no response has
			// gone stale yet.
			return Connecting
		}
	}

	switch {
	case receivedRecently:
		return Maintaining
	case receivedLongAgo:
		return Error
	default:
		return Default
	}
}

// Status returns the connection's status as of time.Now().
func (c *Connection) Status() Status {
	return c.StatusAt(time.Now())
}

// Delegate receives connection lifecycle notifications. Implementations
// must not block; the tracker invokes these synchronously from the send
// and receive paths.
type Delegate interface {
	OnConnectionStatusChanged(c *Connection, old, new Status)
	OnConnectionReceivedData(c *Connection)
}

// Table is the reader-writer-protected set of tracked connections,
// keyed by remote address string.
type Table struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	delegate    Delegate
}

// NewTable creates an empty connection table. delegate may be nil.
func NewTable(delegate Delegate) *Table {
	return &Table{
		connections: make(map[string]*Connection),
		delegate:    delegate,
	}
}

// Connect registers a connection for remote, creating one if absent.
func (t *Table) Connect(remote, local net.Addr) *Connection {
	key := remote.String()

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.connections[key]; ok {
		return c
	}
	c := NewConnection(remote, local)
	t.connections[key] = c
	return c
}

// Disconnect removes the tracked connection for remote, if any.
func (t *Table) Disconnect(remote net.Addr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.connections, remote.String())
}

// Get returns the tracked connection for remote, if any.
func (t *Table) Get(remote net.Addr) (*Connection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.connections[remote.String()]
	return c, ok
}

// Snapshot returns every tracked connection.
func (t *Table) Snapshot() []*Connection {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Connection, 0, len(t.connections))
	for _, c := range t.connections {
		out = append(out, c)
	}
	return out
}

// MarkSent records a successful send to remote and fires the status
// callback if the status changed as a result.
func (t *Table) MarkSent(remote, local net.Addr, at time.Time) {
	c, ok := t.Get(remote)
	if !ok {
		c = t.Connect(remote, local)
	}
	before := c.StatusAt(at)
	c.markSent(at)
	t.notifyIfChanged(c, before, at)
}

// MarkReceived records a received datagram from remote and fires both
// the status and the data-received callback.
func (t *Table) MarkReceived(remote, local net.Addr, at time.Time) *Connection {
	c, ok := t.Get(remote)
	if !ok {
		c = t.Connect(remote, local)
	}
	before := c.StatusAt(at)
	c.markReceived(at)
	t.notifyIfChanged(c, before, at)
	if t.delegate != nil {
		t.delegate.OnConnectionReceivedData(c)
	}
	return c
}

func (t *Table) notifyIfChanged(c *Connection, before Status, at time.Time) {
	after := c.StatusAt(at)
	if after != before && t.delegate != nil {
		t.delegate.OnConnectionStatusChanged(c, before, after)
	}
}

// Purge removes every connection currently in Error status.
func (t *Table) Purge(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, c := range t.connections {
		if c.StatusAt(now) == Error {
			delete(t.connections, key)
		}
	}
}

// NeedsPing returns the connections in Default, Connecting or Expired
// status as of now — the set a heartbeat tick should ping.
func (t *Table) NeedsPing(now time.Time) []*Connection {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Connection
	for _, c := range t.connections {
		switch c.StatusAt(now) {
		case Default, Connecting, Expired:
			out = append(out, c)
		}
	}
	return out
}

package conn

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// ReceiveTimeout bounds each blocking read so the loop can observe
	// closure promptly.
	ReceiveTimeout = 2 * time.Millisecond

	// ReceiveCacheCap is the documented drop-oldest bound on the bounded
	// FIFO of received, non-heartbeat payloads.
	ReceiveCacheCap = 2_000_000

	maxDatagramSize = 65507
)

var (
	pingPayload = []byte("PING")
	pongPayload = []byte("PONG")
)

// Datagram is one payload lifted off the receive cache.
type Datagram struct {
	Payload []byte
	Source  net.Addr
}

// ReceiveDelegate is notified whenever a non-heartbeat datagram is
// enqueued to the receive cache.
type ReceiveDelegate interface {
	OnEnqueued(d Datagram)
}

// cache is the bounded, drop-oldest FIFO of received payloads awaiting
// a consumer (the MTP engine's arrival queue, typically).
type cache struct {
	mu   sync.Mutex
	data []Datagram
	cap  int
}

func newCache(capacity int) *cache {
	return &cache{cap: capacity}
}

func (c *cache) push(d Datagram) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.data) >= c.cap {
		c.data = c.data[1:]
	}
	c.data = append(c.data, d)
}

func (c *cache) pop() (Datagram, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.data) == 0 {
		return Datagram{}, false
	}
	d := c.data[0]
	c.data = c.data[1:]
	return d, true
}

func (c *cache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// Socket wraps one UDP connection, a connection table, and a bounded
// receive cache. Its receive loop owns the socket's reads; send is
// safe to call concurrently from other goroutines.
type Socket struct {
	conn  *net.UDPConn
	Table *Table
	cache *cache

	delegate ReceiveDelegate

	closed atomic.Bool
}

// NewSocket listens on addr (empty string binds an ephemeral port on
// all interfaces) and wires the connection table to delegate.
func NewSocket(addr string, tableDelegate Delegate, receiveDelegate ReceiveDelegate) (*Socket, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("conn: resolve local addr: %w", err)
	}
	udpConn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("conn: listen: %w", err)
	}
	return &Socket{
		conn:     udpConn,
		Table:    NewTable(tableDelegate),
		cache:    newCache(ReceiveCacheCap),
		delegate: receiveDelegate,
	}, nil
}

// LocalAddr returns the bound local address.
func (s *Socket) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Send writes data to remote and, on success, updates the connection
// table's last-sent timestamp for remote.
func (s *Socket) Send(data []byte, remote *net.UDPAddr) (int, error) {
	n, err := s.conn.WriteToUDP(data, remote)
	if err != nil {
		return n, fmt.Errorf("conn: send: %w", err)
	}
	s.Table.MarkSent(remote, s.LocalAddr(), time.Now())
	return n, nil
}

// Run reads datagrams until isClosed is observed. On each datagram it
// updates the connection table, intercepts PING/PONG heartbeats, and
// otherwise enqueues the payload to the receive cache.
func (s *Socket) Run() error {
	buf := make([]byte, maxDatagramSize)
	for !s.closed.Load() {
		s.conn.SetReadDeadline(time.Now().Add(ReceiveTimeout))
		n, remote, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if s.closed.Load() {
				return nil
			}
			return fmt.Errorf("conn: receive: %w", err)
		}

		now := time.Now()
		s.Table.MarkReceived(remote, s.LocalAddr(), now)

		if n == 4 {
			switch {
			case equalBytes(buf[:n], pingPayload):
				s.Send(pongPayload, remote)
				continue
			case equalBytes(buf[:n], pongPayload):
				continue
			}
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		d := Datagram{Payload: payload, Source: remote}
		s.cache.push(d)
		if s.delegate != nil {
			s.delegate.OnEnqueued(d)
		}
	}
	return nil
}

// Pop removes and returns the oldest cached datagram.
func (s *Socket) Pop() (Datagram, bool) {
	return s.cache.pop()
}

// CacheLen reports the number of datagrams currently cached.
func (s *Socket) CacheLen() int {
	return s.cache.len()
}

// Close marks the socket closed and releases the underlying UDP
// connection, causing Run to return.
func (s *Socket) Close() error {
	s.closed.Store(true)
	return s.conn.Close()
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Package turn implements a TURN relay client: Allocate, CreatePermission,
// Send and Receive built on real STUN-shaped messages (RFC 5766). Channel
// bindings are not implemented; every relayed datagram goes through a
// Send/Data indication pair.
package turn

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/saintparish4/dim/pkg/stun"
)

// Allocation is the server-granted relay address and its lease.
type Allocation struct {
	RelayAddr     *net.UDPAddr
	ReflexiveAddr *net.UDPAddr
	Lifetime      time.Duration
	ExpiresAt     time.Time
}

// String returns a human-readable representation of the allocation.
func (a *Allocation) String() string {
	if a == nil {
		return "<nil allocation>"
	}
	return fmt.Sprintf("relay=%s reflexive=%s expires in %v",
		a.RelayAddr, a.ReflexiveAddr, time.Until(a.ExpiresAt))
}

// IsValid reports whether the allocation has not yet expired.
func (a *Allocation) IsValid() bool {
	if a == nil {
		return false
	}
	return time.Now().Before(a.ExpiresAt)
}

// Client is a TURN relay client.
type Client struct {
	serverAddr *net.UDPAddr
	conn       *net.UDPConn
	timeout    time.Duration

	mu         sync.RWMutex
	allocation *Allocation
	closed     bool
}

// ClientConfig configures a relay Client.
type ClientConfig struct {
	ServerAddr string
	Timeout    time.Duration
	Conn       *net.UDPConn
}

// DefaultClientConfig returns sensible relay client defaults.
func DefaultClientConfig(serverAddr string) *ClientConfig {
	return &ClientConfig{ServerAddr: serverAddr, Timeout: 5 * time.Second}
}

// NewClient creates a relay client bound to serverAddr.
func NewClient(config *ClientConfig) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	serverAddr, err := net.ResolveUDPAddr("udp", config.ServerAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve server address: %w", err)
	}

	conn := config.Conn
	if conn == nil {
		conn, err = net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
		if err != nil {
			return nil, fmt.Errorf("create udp socket: %w", err)
		}
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &Client{serverAddr: serverAddr, conn: conn, timeout: timeout}, nil
}

func (c *Client) roundTrip(req *stun.Message) (*stun.Message, error) {
	data, err := req.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}
	defer c.conn.SetReadDeadline(time.Time{})

	if _, err := c.conn.WriteToUDP(data, c.serverAddr); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	resp := make([]byte, 1500)
	n, _, err := c.conn.ReadFromUDP(resp)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	msg, err := stun.Decode(resp[:n])
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if msg.TransactionID != req.TransactionID {
		return nil, fmt.Errorf("transaction id mismatch")
	}
	return msg, nil
}

// Allocate requests a relay allocation with the given lifetime.
func (c *Client) Allocate(lifetime time.Duration) (*Allocation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}

	req, err := stun.NewMessage(stun.TypeAllocateRequest)
	if err != nil {
		return nil, fmt.Errorf("build allocate request: %w", err)
	}
	req.AddAttribute(stun.EncodeLifetime(uint32(lifetime.Seconds())))

	resp, err := c.roundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("allocate: %w", err)
	}
	if resp.Type != stun.TypeAllocateSuccess {
		return nil, fmt.Errorf("allocate rejected: type=%v", resp.Type)
	}

	relayAttr, ok := resp.GetAttribute(stun.AttrXORRelayedAddress)
	if !ok {
		return nil, fmt.Errorf("allocate response missing XOR-RELAYED-ADDRESS")
	}
	relayAddr, err := stun.DecodeXORRelayedAddress(relayAttr, resp.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("decode relayed address: %w", err)
	}

	reflexiveAddr := c.conn.LocalAddr().(*net.UDPAddr)
	if mappedAttr, ok := resp.GetAttribute(stun.AttrXORMappedAddress); ok {
		if addr, err := stun.DecodeXORMappedAddress(mappedAttr, resp.TransactionID); err == nil {
			reflexiveAddr = addr
		}
	}

	grantedLifetime := lifetime
	if lifetimeAttr, ok := resp.GetAttribute(stun.AttrLifetime); ok {
		if seconds, err := stun.DecodeLifetime(lifetimeAttr); err == nil {
			grantedLifetime = time.Duration(seconds) * time.Second
		}
	}

	allocation := &Allocation{
		RelayAddr:     relayAddr,
		ReflexiveAddr: reflexiveAddr,
		Lifetime:      grantedLifetime,
		ExpiresAt:     time.Now().Add(grantedLifetime),
	}
	c.allocation = allocation
	return allocation, nil
}

// Refresh extends the current allocation's lifetime.
func (c *Client) Refresh(lifetime time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.allocation == nil {
		return fmt.Errorf("no allocation to refresh")
	}

	req, err := stun.NewMessage(stun.TypeRefreshRequest)
	if err != nil {
		return fmt.Errorf("build refresh request: %w", err)
	}
	req.AddAttribute(stun.EncodeLifetime(uint32(lifetime.Seconds())))

	resp, err := c.roundTrip(req)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	if resp.Type != stun.TypeRefreshSuccess {
		return fmt.Errorf("refresh rejected: type=%v", resp.Type)
	}

	c.allocation.Lifetime = lifetime
	c.allocation.ExpiresAt = time.Now().Add(lifetime)
	return nil
}

// CreatePermission authorizes peer to exchange data through the relay.
func (c *Client) CreatePermission(peer *net.UDPAddr) error {
	c.mu.RLock()
	allocation := c.allocation
	c.mu.RUnlock()

	if allocation == nil {
		return fmt.Errorf("no allocation")
	}
	if !allocation.IsValid() {
		return fmt.Errorf("allocation has expired")
	}

	req, err := stun.NewMessage(stun.TypeCreatePermissionRequest)
	if err != nil {
		return fmt.Errorf("build createpermission request: %w", err)
	}
	req.AddAttribute(stun.EncodeXORPeerAddress(peer, req.TransactionID))

	resp, err := c.roundTrip(req)
	if err != nil {
		return fmt.Errorf("create permission: %w", err)
	}
	if resp.Type != stun.TypeCreatePermissionSuccess {
		return fmt.Errorf("create permission rejected: type=%v", resp.Type)
	}
	return nil
}

// Send relays data to peer through the server as a Send Indication.
func (c *Client) Send(data []byte, peer *net.UDPAddr) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf("client is closed")
	}
	if c.allocation == nil {
		return fmt.Errorf("no allocation - call Allocate() first")
	}
	if !c.allocation.IsValid() {
		return fmt.Errorf("allocation has expired")
	}

	ind, err := stun.NewMessage(stun.TypeSendIndication)
	if err != nil {
		return fmt.Errorf("build send indication: %w", err)
	}
	ind.AddAttribute(stun.EncodeXORPeerAddress(peer, ind.TransactionID))
	ind.AddAttribute(stun.EncodeData(data))

	encoded, err := ind.Encode()
	if err != nil {
		return fmt.Errorf("encode send indication: %w", err)
	}
	if _, err := c.conn.WriteToUDP(encoded, c.serverAddr); err != nil {
		return fmt.Errorf("write send indication: %w", err)
	}
	return nil
}

// Receive blocks for one Data Indication from the relay server and returns
// the payload along with the originating peer address.
func (c *Client) Receive() ([]byte, *net.UDPAddr, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, nil, fmt.Errorf("client is closed")
	}
	c.mu.RUnlock()

	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, nil, fmt.Errorf("set deadline: %w", err)
	}
	defer c.conn.SetReadDeadline(time.Time{})

	buf := make([]byte, 65536)
	n, _, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, nil, fmt.Errorf("receive data indication: %w", err)
	}

	msg, err := stun.Decode(buf[:n])
	if err != nil {
		return nil, nil, fmt.Errorf("decode data indication: %w", err)
	}
	if msg.Type != stun.TypeDataIndication {
		return nil, nil, fmt.Errorf("unexpected message type: %v", msg.Type)
	}

	peerAttr, ok := msg.GetAttribute(stun.AttrXORPeerAddress)
	if !ok {
		return nil, nil, fmt.Errorf("data indication missing XOR-PEER-ADDRESS")
	}
	peer, err := stun.DecodeXORPeerAddress(peerAttr, msg.TransactionID)
	if err != nil {
		return nil, nil, fmt.Errorf("decode peer address: %w", err)
	}

	dataAttr, ok := msg.GetAttribute(stun.AttrData)
	if !ok {
		return nil, nil, fmt.Errorf("data indication missing DATA")
	}

	payload := make([]byte, len(dataAttr.Value))
	copy(payload, dataAttr.Value)
	return payload, peer, nil
}

// Allocation returns the client's current allocation, if any.
func (c *Client) Allocation() *Allocation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.allocation
}

// LocalAddr returns the client's local UDP address.
func (c *Client) LocalAddr() *net.UDPAddr {
	return c.conn.LocalAddr().(*net.UDPAddr)
}

// Close releases the client's allocation and socket.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.allocation = nil
	return c.conn.Close()
}

package turn

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/saintparish4/dim/pkg/stun"
)

// DefaultLifetime is the allocation lifetime granted when a client's
// Allocate request omits LIFETIME or requests zero seconds.
const DefaultLifetime = 10 * time.Minute

// allocation is the server-side bookkeeping for one client's relay slot.
type allocation struct {
	client      *net.UDPAddr
	relayed     *net.UDPConn
	expiresAt   time.Time
	permissions map[string]time.Time // peer addr string -> permission expiry
	mu          sync.Mutex
}

func (a *allocation) hasPermission(peer *net.UDPAddr) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	expiry, ok := a.permissions[peer.String()]
	return ok && time.Now().Before(expiry)
}

func (a *allocation) grantPermission(peer *net.UDPAddr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.permissions[peer.String()] = time.Now().Add(5 * time.Minute)
}

// Server is a minimal TURN relay server. Each allocation gets its own
// relayed UDP socket; datagrams arriving on it are forwarded to the
// owning client as Data Indications, and Send Indications from the
// client are forwarded out that socket to the named peer.
type Server struct {
	conn *net.UDPConn

	mu          sync.RWMutex
	allocations map[string]*allocation // client addr string -> allocation

	closed chan struct{}
}

// NewServer binds a UDP socket at addr and returns a relay Server ready
// to Serve.
func NewServer(addr string) (*Server, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}
	return &Server{
		conn:        conn,
		allocations: make(map[string]*allocation),
		closed:      make(chan struct{}),
	}, nil
}

// LocalAddr returns the address the server is bound to.
func (s *Server) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Serve blocks, handling Allocate/CreatePermission/Refresh/Send from
// clients until Close is called.
func (s *Server) Serve() error {
	buf := make([]byte, 1500)
	for {
		n, remote, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.closed:
				return nil
			default:
				continue
			}
		}

		msg, err := stun.Decode(buf[:n])
		if err != nil {
			continue // malformed request, dropped silently
		}

		switch msg.Type {
		case stun.TypeAllocateRequest:
			s.handleAllocate(msg, remote)
		case stun.TypeCreatePermissionRequest:
			s.handleCreatePermission(msg, remote)
		case stun.TypeRefreshRequest:
			s.handleRefresh(msg, remote)
		case stun.TypeSendIndication:
			s.handleSend(msg, remote)
		}
	}
}

func (s *Server) handleAllocate(req *stun.Message, client *net.UDPAddr) {
	relayConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: s.LocalAddr().IP, Port: 0})
	if err != nil {
		return
	}

	lifetime := DefaultLifetime
	if attr, ok := req.GetAttribute(stun.AttrLifetime); ok {
		if seconds, err := stun.DecodeLifetime(attr); err == nil && seconds > 0 {
			lifetime = time.Duration(seconds) * time.Second
		}
	}

	alloc := &allocation{
		client:      client,
		relayed:     relayConn,
		expiresAt:   time.Now().Add(lifetime),
		permissions: make(map[string]time.Time),
	}

	s.mu.Lock()
	s.allocations[client.String()] = alloc
	s.mu.Unlock()

	go s.pumpRelayed(alloc)

	resp, err := stun.NewMessage(stun.TypeAllocateSuccess)
	if err != nil {
		return
	}
	resp.TransactionID = req.TransactionID
	resp.AddAttribute(stun.EncodeXORRelayedAddress(relayConn.LocalAddr().(*net.UDPAddr), req.TransactionID))
	resp.AddAttribute(stun.EncodeXORMappedAddress(client, req.TransactionID))
	resp.AddAttribute(stun.EncodeLifetime(uint32(lifetime.Seconds())))

	s.reply(resp, client)
}

func (s *Server) handleCreatePermission(req *stun.Message, client *net.UDPAddr) {
	s.mu.RLock()
	alloc, ok := s.allocations[client.String()]
	s.mu.RUnlock()
	if !ok {
		return
	}

	peerAttr, ok := req.GetAttribute(stun.AttrXORPeerAddress)
	if !ok {
		return
	}
	peer, err := stun.DecodeXORPeerAddress(peerAttr, req.TransactionID)
	if err != nil {
		return
	}
	alloc.grantPermission(peer)

	resp, err := stun.NewMessage(stun.TypeCreatePermissionSuccess)
	if err != nil {
		return
	}
	resp.TransactionID = req.TransactionID
	s.reply(resp, client)
}

func (s *Server) handleRefresh(req *stun.Message, client *net.UDPAddr) {
	s.mu.RLock()
	alloc, ok := s.allocations[client.String()]
	s.mu.RUnlock()
	if !ok {
		return
	}

	lifetime := DefaultLifetime
	if attr, ok := req.GetAttribute(stun.AttrLifetime); ok {
		if seconds, err := stun.DecodeLifetime(attr); err == nil {
			lifetime = time.Duration(seconds) * time.Second
		}
	}
	alloc.mu.Lock()
	alloc.expiresAt = time.Now().Add(lifetime)
	alloc.mu.Unlock()

	resp, err := stun.NewMessage(stun.TypeRefreshSuccess)
	if err != nil {
		return
	}
	resp.TransactionID = req.TransactionID
	resp.AddAttribute(stun.EncodeLifetime(uint32(lifetime.Seconds())))
	s.reply(resp, client)
}

func (s *Server) handleSend(ind *stun.Message, client *net.UDPAddr) {
	s.mu.RLock()
	alloc, ok := s.allocations[client.String()]
	s.mu.RUnlock()
	if !ok {
		return
	}

	peerAttr, ok := ind.GetAttribute(stun.AttrXORPeerAddress)
	if !ok {
		return
	}
	peer, err := stun.DecodeXORPeerAddress(peerAttr, ind.TransactionID)
	if err != nil {
		return
	}
	if !alloc.hasPermission(peer) {
		return
	}

	dataAttr, ok := ind.GetAttribute(stun.AttrData)
	if !ok {
		return
	}
	alloc.relayed.WriteToUDP(dataAttr.Value, peer)
}

// pumpRelayed forwards datagrams arriving on an allocation's relayed
// socket back to the owning client as Data Indications.
func (s *Server) pumpRelayed(alloc *allocation) {
	buf := make([]byte, 65536)
	for {
		alloc.relayed.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, peer, err := alloc.relayed.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.closed:
				alloc.relayed.Close()
				return
			default:
			}
			alloc.mu.Lock()
			expired := time.Now().After(alloc.expiresAt)
			alloc.mu.Unlock()
			if expired {
				alloc.relayed.Close()
				s.mu.Lock()
				delete(s.allocations, alloc.client.String())
				s.mu.Unlock()
				return
			}
			continue
		}

		ind, err := stun.NewMessage(stun.TypeDataIndication)
		if err != nil {
			continue
		}
		ind.AddAttribute(stun.EncodeXORPeerAddress(peer, ind.TransactionID))
		ind.AddAttribute(stun.EncodeData(buf[:n]))
		s.reply(ind, alloc.client)
	}
}

func (s *Server) reply(msg *stun.Message, to *net.UDPAddr) {
	data, err := msg.Encode()
	if err != nil {
		return
	}
	s.conn.WriteToUDP(data, to)
}

// Close stops the server and releases all allocations.
func (s *Server) Close() error {
	close(s.closed)
	s.mu.Lock()
	for _, alloc := range s.allocations {
		alloc.relayed.Close()
	}
	s.mu.Unlock()
	return s.conn.Close()
}

package stun

import (
	"fmt"
	"net"
)

// Server is a minimal STUN reflector: it answers BindingRequest with a
// BindingSuccess carrying the requester's observed address as
// XOR-MAPPED-ADDRESS, exactly as the scenario in spec.md §8.1 describes.
// It shares the client's wire codec — a Server and a Client always agree
// on attribute layout because both go through Encode/Decode.
type Server struct {
	conn   *net.UDPConn
	closed chan struct{}
}

// NewServer binds a UDP socket at addr ("host:port", "" for any port) and
// returns a Server ready to Serve.
func NewServer(addr string) (*Server, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve listen address: %w", err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}

	return &Server{conn: conn, closed: make(chan struct{})}, nil
}

// LocalAddr returns the address the server is bound to.
func (s *Server) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Serve blocks, answering BindingRequests until Close is called.
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

		req, err := Decode(buf[:n])
		if err != nil {
			continue // malformed request: drop silently, per spec.md §7
		}
		if req.Type != TypeBindingRequest {
			continue
		}

		resp, err := NewMessage(TypeBindingSuccess)
		if err != nil {
			continue
		}
		resp.TransactionID = req.TransactionID
		resp.AddAttribute(EncodeXORMappedAddress(remote, req.TransactionID))

		data, err := resp.Encode()
		if err != nil {
			continue
		}
		s.conn.WriteToUDP(data, remote)
	}
}

// Close stops the server and releases its socket.
func (s *Server) Close() error {
	close(s.closed)
	return s.conn.Close()
}

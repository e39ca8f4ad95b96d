package stun

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// SoftwareName is advertised in the SOFTWARE attribute of every request
// this client sends (RFC 5389 §15.10).
const SoftwareName = "dim-stun-client"

// ErrTimeout indicates a request received no response within the
// client's timeout. pkg/nat's CHANGE-REQUEST probes treat a timeout as
// a diagnostic result (the server didn't honor the request) rather
// than a hard failure, so it's exported for errors.Is.
var ErrTimeout = errors.New("stun: request timed out")

// Endpoint represents a discovered network endpoint
type Endpoint struct {
	LocalAddr  *net.UDPAddr
	PublicAddr *net.UDPAddr
	ServerAddr *net.UDPAddr
}

// Client is a STUN client for discovering public endpoints
type Client struct {
	conn       *net.UDPConn
	serverAddr *net.UDPAddr
	timeout    time.Duration
}

// ClientConfig holds configuration for creating a STUN client
type ClientConfig struct {
	ServerAddr string        // STUN server address (host:port)
	LocalAddr  string        // Optional local address to bind to
	Timeout    time.Duration // Request timeout
}

// DefaultTimeout is the default timeout for STUN requests
const DefaultTimeout = 5 * time.Second

// NewClient creates a new STUN client
func NewClient(config *ClientConfig) (*Client, error) {
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}

	serverAddr, err := net.ResolveUDPAddr("udp", config.ServerAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve server address: %w", err)
	}

	var localAddr *net.UDPAddr
	if config.LocalAddr != "" {
		localAddr, err = net.ResolveUDPAddr("udp", config.LocalAddr)
		if err != nil {
			return nil, fmt.Errorf("resolve local address: %w", err)
		}
	}

	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("create udp connection: %w", err)
	}

	return &Client{
		conn:       conn,
		serverAddr: serverAddr,
		timeout:    config.Timeout,
	}, nil
}

// Discover performs endpoint discovery using a plain STUN binding
// request, advertising this client under SOFTWARE.
func (c *Client) Discover() (*Endpoint, error) {
	request, err := NewMessage(TypeBindingRequest)
	if err != nil {
		return nil, fmt.Errorf("create binding request: %w", err)
	}
	request.AddAttribute(Attribute{
		Type:   AttrSoftware,
		Length: uint16(len(SoftwareName)),
		Value:  []byte(SoftwareName),
	})
	return c.roundTrip(request)
}

// DiscoverWithChangeRequest performs a binding request carrying a
// CHANGE-REQUEST attribute, asking the server to source its response
// from a different IP and/or port (RFC 3489 §10.1 Test II/III).
// pkg/nat uses this to tell cone NAT subtypes apart. Most public STUN
// servers ignore CHANGE-REQUEST entirely, so a timeout is not treated
// as an error here: it returns (nil, nil), since "the server never
// replied" is itself the classification signal the caller wants.
func (c *Client) DiscoverWithChangeRequest(changeIP, changePort bool) (*Endpoint, error) {
	request, err := NewMessage(TypeBindingRequest)
	if err != nil {
		return nil, fmt.Errorf("create binding request: %w", err)
	}
	request.AddAttribute(Attribute{
		Type:   AttrSoftware,
		Length: uint16(len(SoftwareName)),
		Value:  []byte(SoftwareName),
	})
	request.AddAttribute(EncodeChangeRequest(changeIP, changePort))

	endpoint, err := c.roundTrip(request)
	if errors.Is(err, ErrTimeout) {
		return nil, nil
	}
	return endpoint, err
}

func (c *Client) roundTrip(request *Message) (*Endpoint, error) {
	data, err := request.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	if _, err := c.conn.WriteToUDP(data, c.serverAddr); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}
	defer c.conn.SetReadDeadline(time.Time{})

	buf := make([]byte, 1500) // MTU size
	n, _, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, fmt.Errorf("%w after %v", ErrTimeout, c.timeout)
		}
		return nil, fmt.Errorf("read response: %w", err)
	}

	response, err := Decode(buf[:n])
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if response.TransactionID != request.TransactionID {
		return nil, fmt.Errorf("transaction ID mismatch")
	}

	switch response.Type {
	case TypeBindingError:
		if attr, found := response.GetAttribute(AttrErrorCode); found {
			if code, reason, decErr := DecodeErrorCode(attr); decErr == nil {
				return nil, fmt.Errorf("stun error %d: %s", code, reason)
			}
		}
		return nil, fmt.Errorf("received error response: %s", response.Type)
	case TypeBindingSuccess:
		// fall through
	default:
		return nil, fmt.Errorf("unexpected response type: %s", response.Type)
	}

	publicAddr, err := mappedAddressOf(response, request.TransactionID)
	if err != nil {
		return nil, err
	}

	return &Endpoint{
		LocalAddr:  c.conn.LocalAddr().(*net.UDPAddr),
		PublicAddr: publicAddr,
		ServerAddr: c.serverAddr,
	}, nil
}

// mappedAddressOf prefers XOR-MAPPED-ADDRESS (RFC 5389), falling back to
// its pre-standard code point and finally the legacy plain
// MAPPED-ADDRESS a RFC-3489-only server sends instead.
func mappedAddressOf(response *Message, transactionID [TransactionIDSize]byte) (*net.UDPAddr, error) {
	if attr, found := response.GetAttribute(AttrXORMappedAddress); found {
		return DecodeXORMappedAddress(attr, transactionID)
	}
	if attr, found := response.GetAttribute(AttrXORMappedAddrOld); found {
		return DecodeXORMappedAddress(attr, transactionID)
	}
	if attr, found := response.GetAttribute(AttrMappedAddress); found {
		return DecodeMappedAddress(attr)
	}
	return nil, fmt.Errorf("no address attribute in response")
}

// DiscoverWithRetry attempts endpoint discovery with retry logic
func (c *Client) DiscoverWithRetry(maxRetries int) (*Endpoint, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		endpoint, err := c.Discover()
		if err == nil {
			return endpoint, nil
		}

		lastErr = err

		if attempt < maxRetries {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			if backoff > 10*time.Second {
				backoff = 10 * time.Second
			}
			time.Sleep(backoff)
		}
	}

	return nil, fmt.Errorf("discovery failed after %d attempts: %w", maxRetries+1, lastErr)
}

// Close closes the STUN client and releases resources
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// LocalAddr returns the local address the client is bound to
func (c *Client) LocalAddr() *net.UDPAddr {
	if c.conn != nil {
		return c.conn.LocalAddr().(*net.UDPAddr)
	}
	return nil
}

// ServerAddr returns the STUN server address
func (c *Client) ServerAddr() *net.UDPAddr {
	return c.serverAddr
}

// String returns a string representation of the endpoint
func (e *Endpoint) String() string {
	return fmt.Sprintf("Local: %s, Public: %s (via %s)",
		e.LocalAddr, e.PublicAddr, e.ServerAddr)
}

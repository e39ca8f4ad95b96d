// Package node ties the UDP socket and connection tracker (pkg/conn),
// the MTP reliability engine (pkg/mtp), the DMTP command/message codec
// (pkg/dmtp), and the contact directory (pkg/contact) into one object
// whose Run supervises every long-running worker as a single
// cancellable group, and whose Shutdown releases them in reverse
// construction order.
package node

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/saintparish4/dim/internal/logging"
	"github.com/saintparish4/dim/pkg/conn"
	"github.com/saintparish4/dim/pkg/contact"
	"github.com/saintparish4/dim/pkg/dmtp"
	"github.com/saintparish4/dim/pkg/mtp"
	"github.com/saintparish4/dim/pkg/punch"
	"github.com/saintparish4/dim/pkg/stun"
)

// Config configures a Node.
type Config struct {
	// ListenAddr is the local UDP address to bind (e.g. ":0" for an
	// ephemeral port on every interface).
	ListenAddr string

	// Identifier is this node's DMTP identifier.
	Identifier string

	// STUNServer is used for public endpoint discovery.
	STUNServer string

	// SigningKey authenticates this node's outgoing Location records
	// and verifies ones it receives.
	SigningKey []byte

	// MTP tunes the reliability engine's retry/timeout behavior.
	MTP *mtp.Config

	// DirectoryPurgeInterval is how often the contact directory drops
	// entries past ExpiresSeconds. Zero uses a 1 minute default.
	DirectoryPurgeInterval time.Duration

	Logger *logging.Logger
}

// DefaultConfig returns sensible defaults for every Config field a
// caller doesn't set explicitly.
func DefaultConfig() Config {
	return Config{
		ListenAddr:             ":0",
		STUNServer:             "stun.l.google.com:19302",
		MTP:                    mtp.DefaultConfig(),
		DirectoryPurgeInterval: time.Minute,
		Logger:                 logging.Default(),
	}
}

// CommandHandler is invoked for every decoded DMTP command the node's
// engine accepts. Returning true tells the engine to send a CommandRespond.
type CommandHandler func(cmd *dmtp.Command, src net.Addr) bool

// MessageHandler is invoked for every decoded DMTP message. Returning
// true tells the engine to send a MessageRespond.
type MessageHandler func(msg *dmtp.Message, src net.Addr) bool

// Node is the assembled NAT-traversal peer: one UDP socket, one MTP
// engine, one contact directory, optionally backed by hole punching and
// STUN discovery.
type Node struct {
	cfg       Config
	socket    *conn.Socket
	engine    *mtp.Engine
	directory *contact.Directory
	signer    *HMACSigner
	log       *logging.Logger

	// OnCommand/OnMessage are called for decoded arrivals the caller
	// wants to act on beyond the built-in SIGN/BYE directory bookkeeping.
	OnCommand CommandHandler
	OnMessage MessageHandler

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New builds a Node and binds its UDP socket. The socket is not
// receiving yet; call Run to start it.
func New(cfg Config) (*Node, error) {
	if cfg.MTP == nil {
		cfg.MTP = mtp.DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.DirectoryPurgeInterval <= 0 {
		cfg.DirectoryPurgeInterval = time.Minute
	}

	n := &Node{
		cfg:    cfg,
		signer: NewHMACSigner(cfg.SigningKey),
		log:    cfg.Logger,
	}
	n.directory = contact.NewDirectory(n.signer, dmtp.EncodeAddress)

	socket, err := conn.NewSocket(cfg.ListenAddr, n, n)
	if err != nil {
		return nil, fmt.Errorf("node: bind socket: %w", err)
	}
	n.socket = socket
	n.engine = mtp.NewEngine(n, cfg.MTP)
	return n, nil
}

// LocalAddr returns the node's bound UDP address.
func (n *Node) LocalAddr() *net.UDPAddr {
	return n.socket.LocalAddr()
}

// Directory exposes the node's contact directory.
func (n *Node) Directory() *contact.Directory {
	return n.directory
}

// DiscoverPublicEndpoint contacts the configured STUN server from a
// short-lived STUN client socket of its own and returns that socket's
// local and public mapping. The node's UDP socket (LocalAddr) is not
// used, so the reported ports are not the node socket's port.
func (n *Node) DiscoverPublicEndpoint() (*stun.Endpoint, error) {
	client, err := stun.NewClient(&stun.ClientConfig{ServerAddr: n.cfg.STUNServer})
	if err != nil {
		return nil, fmt.Errorf("node: stun client: %w", err)
	}
	defer client.Close()
	return client.Discover()
}

// Punch attempts UDP hole punching to a peer's public endpoint before a
// caller falls back to TURN relay, per the optional-reachability-helper
// decision recorded in SPEC_FULL.md §15.
func (n *Node) Punch(peer *punch.PeerInfo) (*punch.Connection, error) {
	puncher, err := punch.NewPuncher(punch.DefaultPuncherConfig())
	if err != nil {
		return nil, fmt.Errorf("node: new puncher: %w", err)
	}
	conn, err := puncher.PunchHole(peer)
	if err != nil {
		puncher.Close()
		return nil, err
	}
	return conn, nil
}

// SendCommand encodes and transmits a DMTP command, registering a
// departure that the engine retries until acknowledged.
func (n *Node) SendCommand(cmd *dmtp.Command, dst *net.UDPAddr) (uint32, error) {
	if err := cmd.Validate(); err != nil {
		return 0, fmt.Errorf("node: invalid command: %w", err)
	}
	return n.engine.SendCommand(cmd.Encode(), dst, n.LocalAddr())
}

// SendMessage encodes and transmits a DMTP message, fragmenting it if
// necessary.
func (n *Node) SendMessage(msg *dmtp.Message, dst *net.UDPAddr) (uint32, error) {
	return n.engine.SendMessage(msg.Encode(), dst, n.LocalAddr())
}

// Run starts the socket's receive loop, the engine's dispatch loop, the
// connection table's heartbeat, and the directory's purge cycle,
// supervising all four as one cancellable group. It blocks until ctx is
// canceled or a worker returns an error.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	g, gctx := errgroup.WithContext(ctx)
	// workers counts every goroutine except the socket's receive loop,
	// so the socket is closed only after all of them have returned.
	var workers sync.WaitGroup
	workers.Add(3)
	g.Go(n.socket.Run)
	g.Go(func() error {
		defer workers.Done()
		return n.engine.Run(gctx)
	})
	g.Go(func() error {
		defer workers.Done()
		n.socket.RunHeartbeat(gctx, conn.DefaultHeartbeatInterval)
		return nil
	})
	g.Go(func() error {
		defer workers.Done()
		n.runDirectoryPurge(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		workers.Wait()
		return n.socket.Close()
	})

	n.group = g
	return g.Wait()
}

func (n *Node) runDirectoryPurge(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.DirectoryPurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.directory.Purge(time.Now(), "", nil)
		}
	}
}

// Shutdown cancels every worker started by Run and waits for them to
// unwind in reverse construction order: dispatch loop and heartbeat
// stop first (both select on ctx.Done), then the socket closes last,
// releasing the OS-level UDP connection.
func (n *Node) Shutdown() error {
	if n.cancel != nil {
		n.cancel()
	}
	if n.group != nil {
		return n.group.Wait()
	}
	return n.socket.Close()
}

// --- conn.Delegate ---

func (n *Node) OnConnectionStatusChanged(c *conn.Connection, old, new conn.Status) {
	n.log.Debug("connection %s: %s -> %s", c.RemoteAddr, old, new)
}

func (n *Node) OnConnectionReceivedData(c *conn.Connection) {}

// --- conn.ReceiveDelegate ---

func (n *Node) OnEnqueued(d conn.Datagram) {
	n.engine.Pool().AppendArrival(mtp.Arrival{
		Payload:     d.Payload,
		Source:      d.Source,
		Destination: n.LocalAddr(),
	})
}

// --- mtp.Delegate ---

func (n *Node) SendData(data []byte, remote, local net.Addr) (int, error) {
	udpRemote, ok := remote.(*net.UDPAddr)
	if !ok {
		return 0, fmt.Errorf("node: remote is not a UDP address: %v", remote)
	}
	return n.socket.Send(data, udpRemote)
}

func (n *Node) OnReceivedCommand(body []byte, src, dst net.Addr) bool {
	cmd, err := dmtp.DecodeCommand(body)
	if err != nil {
		n.log.Warn("dropping malformed command from %s: %v", src, err)
		return false
	}

	switch cmd.Kind {
	case dmtp.KindSIGN:
		n.directory.StoreLocation(&contact.Location{
			Identifier: cmd.ID,
			Source:     udpAddr(src),
			Mapped:     cmd.Map,
			Relayed:    cmd.Rly,
			Timestamp:  cmd.Time,
			Signature:  cmd.Sign,
			NATType:    string(cmd.NAT),
		})
	case dmtp.KindBYE:
		n.directory.ClearLocation(&contact.Location{
			Identifier: cmd.ID,
			Source:     cmd.Src,
			Mapped:     cmd.Map,
			Timestamp:  cmd.Time,
			Signature:  cmd.Sign,
		})
	}

	if n.OnCommand != nil {
		return n.OnCommand(cmd, src)
	}
	return true
}

func (n *Node) OnReceivedMessage(body []byte, src, dst net.Addr) bool {
	msg, err := dmtp.DecodeMessage(body)
	if err != nil {
		n.log.Warn("dropping malformed message from %s: %v", src, err)
		return false
	}
	if n.OnMessage != nil {
		return n.OnMessage(msg, src)
	}
	return true
}

func (n *Node) CheckFragment(pkg *mtp.Package, src, dst net.Addr) bool {
	return true
}

func (n *Node) OnSendCommandSuccess(sn uint32, dst, src net.Addr) {
	n.log.Debug("command %d acknowledged by %s", sn, dst)
}

func (n *Node) OnSendMessageSuccess(sn uint32, dst, src net.Addr) {
	n.log.Debug("message %d acknowledged by %s", sn, dst)
}

func (n *Node) OnSendCommandTimeout(sn uint32, dst, src net.Addr) {
	n.log.Warn("command %d to %s timed out", sn, dst)
}

func (n *Node) OnSendMessageTimeout(sn uint32, dst, src net.Addr) {
	n.log.Warn("message %d to %s timed out", sn, dst)
}

func (n *Node) RecycleFragments(slots []*mtp.AssembleSlot, src, dst net.Addr) {
	n.log.Debug("discarding %d incomplete fragment set(s) from %s", len(slots), src)
}

func udpAddr(a net.Addr) *net.UDPAddr {
	if u, ok := a.(*net.UDPAddr); ok {
		return u
	}
	return nil
}

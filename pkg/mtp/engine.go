package mtp

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Delegate is the set of callable surfaces an embedder implements for
// the dispatch loop to invoke. The engine never performs OS-level I/O
// itself — SendData is the delegate's responsibility — so it stays
// transport-agnostic (pkg/conn supplies the UDP socket).
type Delegate interface {
	// SendData performs the OS-level send and returns the number of
	// bytes written. A negative return (or error) leaves the
	// departure pending for retry.
	SendData(data []byte, remote, local net.Addr) (int, error)

	OnReceivedCommand(body []byte, src, dst net.Addr) bool
	OnReceivedMessage(body []byte, src, dst net.Addr) bool
	CheckFragment(pkg *Package, src, dst net.Addr) bool

	OnSendCommandSuccess(sn uint32, dst, src net.Addr)
	OnSendMessageSuccess(sn uint32, dst, src net.Addr)
	OnSendCommandTimeout(sn uint32, dst, src net.Addr)
	OnSendMessageTimeout(sn uint32, dst, src net.Addr)

	RecycleFragments(slots []*AssembleSlot, src, dst net.Addr)
}

// Config tunes the Engine's retry and idle behavior.
type Config struct {
	// MaxRetries is how many times a departure is resent before the
	// delegate's timeout callback fires.
	MaxRetries int

	// RetryInterval is the fixed gap between resend attempts.
	RetryInterval time.Duration

	// ReassemblyTimeout bounds how long an incomplete fragment set
	// is kept before it is discarded and handed to RecycleFragments.
	ReassemblyTimeout time.Duration

	// IdleSleep is how long the dispatch loop sleeps when neither an
	// arrival nor an expired departure was found to process.
	IdleSleep time.Duration
}

// DefaultConfig returns the retry/timeout defaults spec.md names.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:        5,
		RetryInterval:     2 * time.Second,
		ReassemblyTimeout: 30 * time.Second,
		IdleSleep:         100 * time.Millisecond,
	}
}

// Engine is the MTP peer dispatch loop: it drains the arrival queue,
// retries expired departures, and reclaims stale fragment reassembly
// slots, invoking Delegate at each boundary.
type Engine struct {
	pool     *Pool
	delegate Delegate
	config   *Config
}

// NewEngine creates an Engine backed by a fresh Pool.
func NewEngine(delegate Delegate, config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	return &Engine{
		pool:     NewPool(config.ReassemblyTimeout),
		delegate: delegate,
		config:   config,
	}
}

// Pool exposes the engine's backing Pool so a transport layer (pkg/conn)
// can feed it arrivals.
func (e *Engine) Pool() *Pool {
	return e.pool
}

// Run executes the dispatch loop until ctx is cancelled. It is the
// "peer dispatch loop" half of spec.md's two long-running workers; the
// other half (the socket receive loop) lives in pkg/conn and is
// supervised alongside this one by the caller (pkg/node uses
// golang.org/x/sync/errgroup for that).
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		didArrivalWork := e.drainArrivals()
		didDepartureWork := e.retireOneDeparture()

		if !didDepartureWork {
			if stale := e.pool.DiscardFragments(); len(stale) > 0 {
				for _, slot := range stale {
					e.delegate.RecycleFragments([]*AssembleSlot{slot}, slot.Source, nil)
				}
			}
		}

		if !didArrivalWork && !didDepartureWork {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.config.IdleSleep):
			}
		}
	}
}

func (e *Engine) drainArrivals() bool {
	count := e.pool.CountArrivals()
	for i := 0; i < count; i++ {
		arrival, ok := e.pool.ShiftFirstArrival()
		if !ok {
			break
		}
		e.handleArrival(arrival)
	}
	return count > 0
}

func (e *Engine) handleArrival(a Arrival) {
	pkg, err := ParsePackage(a.Payload)
	if err != nil {
		return // malformed packet: drop silently
	}

	switch pkg.Head.Type {
	case TypeCommandRespond:
		if d, ok := e.pool.DeleteDeparture(pkg.Head.SN, 0, false); ok {
			e.delegate.OnSendCommandSuccess(d.SN, d.Destination, d.Source)
		}

	case TypeMessageRespond:
		if pages, offset, ok := ParseFragmentAckBody(pkg.Body); ok {
			_ = pages
			if d, found := e.pool.DeleteDeparture(pkg.Head.SN, offset, true); found {
				if len(d.Packages) == 0 {
					e.delegate.OnSendMessageSuccess(d.SN, d.Destination, d.Source)
				}
			}
		} else if d, found := e.pool.DeleteDeparture(pkg.Head.SN, 0, false); found {
			e.delegate.OnSendMessageSuccess(d.SN, d.Destination, d.Source)
		}

	case TypeCommand:
		if e.delegate.OnReceivedCommand(pkg.Body, a.Source, a.Destination) {
			e.respond(CreatePackage(TypeCommandRespond, pkg.Head.SN, []byte("OK")), a.Source, a.Destination)
		}

	case TypeMessage:
		if e.delegate.OnReceivedMessage(pkg.Body, a.Source, a.Destination) {
			e.respond(CreatePackage(TypeMessageRespond, pkg.Head.SN, []byte("OK")), a.Source, a.Destination)
		}

	case TypeMessageFragment:
		if !e.delegate.CheckFragment(pkg, a.Source, a.Destination) {
			return
		}
		assembled, err := e.pool.InsertFragment(pkg, a.Source)
		if err == nil && assembled != nil {
			e.delegate.OnReceivedMessage(assembled.Body, a.Source, a.Destination)
		}
		ack := CreatePackage(TypeMessageRespond, pkg.Head.SN, FragmentAckBody(pkg.Head.Pages, pkg.Head.Offset))
		e.respond(ack, a.Source, a.Destination)
	}
}

func (e *Engine) respond(pkg *Package, dst, src net.Addr) {
	e.delegate.SendData(pkg.Encode(), dst, src)
}

func (e *Engine) retireOneDeparture() bool {
	d, ok := e.pool.ShiftExpiredDeparture(time.Now(), e.config.RetryInterval)
	if !ok {
		return false
	}

	if d.TriesLeft <= 0 {
		if d.Type == TypeCommand {
			e.delegate.OnSendCommandTimeout(d.SN, d.Destination, d.Source)
		} else {
			e.delegate.OnSendMessageTimeout(d.SN, d.Destination, d.Source)
		}
		return true
	}

	for _, pkg := range d.Packages {
		e.delegate.SendData(pkg.Encode(), d.Destination, d.Source)
	}
	d.LastTry = time.Now()
	d.TriesLeft--
	e.pool.RequeueDeparture(d)
	return true
}

// SendCommand transmits body as a Command packet and registers a
// departure awaiting its CommandRespond.
func (e *Engine) SendCommand(body []byte, dst, src net.Addr) (uint32, error) {
	pkg := CreatePackage(TypeCommand, 0, body)
	if err := e.sendAndTrack(pkg, TypeCommand, []*Package{pkg}, dst, src); err != nil {
		return 0, err
	}
	return pkg.Head.SN, nil
}

// SendMessage transmits body as a Message packet, splitting into
// fragments first if it exceeds MaxBodyLen, and registers a departure
// (or one fragment per departure package) awaiting acknowledgement.
func (e *Engine) SendMessage(body []byte, dst, src net.Addr) (uint32, error) {
	pkg := CreatePackage(TypeMessage, 0, body)
	fragments, err := pkg.Split()
	if err != nil {
		return 0, fmt.Errorf("mtp: split message: %w", err)
	}
	if err := e.sendAndTrack(pkg, TypeMessage, fragments, dst, src); err != nil {
		return 0, err
	}
	return pkg.Head.SN, nil
}

func (e *Engine) sendAndTrack(pkg *Package, t Type, packages []*Package, dst, src net.Addr) error {
	for _, p := range packages {
		if _, err := e.delegate.SendData(p.Encode(), dst, src); err != nil {
			// initial send failed; still register the departure so the
			// retry loop picks it up rather than losing the packet.
			_ = err
		}
	}

	e.pool.AppendDeparture(&Departure{
		SN:          pkg.Head.SN,
		Type:        t,
		Destination: dst,
		Source:      src,
		Packages:    packages,
		LastTry:     time.Now(),
		TriesLeft:   e.config.MaxRetries,
	})
	return nil
}

// Stats is a point-in-time snapshot of the engine's backlog, used for
// observability (there is no notion of transfer byte-rate at this
// layer).
type Stats struct {
	ArrivalsPending   int
	DeparturesPending int
	FragmentsPending  int
}

// Stats returns a snapshot of the engine's current backlog.
func (e *Engine) Stats() Stats {
	return Stats{
		ArrivalsPending:   e.pool.CountArrivals(),
		DeparturesPending: e.pool.CountDepartures(),
		FragmentsPending:  e.pool.CountAssemblies(),
	}
}

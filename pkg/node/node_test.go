package node

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/saintparish4/dim/pkg/contact"
	"github.com/saintparish4/dim/pkg/dmtp"
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.SigningKey = []byte("test-key")
	n, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return n
}

func runNode(t *testing.T, n *Node) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go n.Run(ctx)
	return cancel
}

func TestHMACSignerRoundtrip(t *testing.T) {
	s := NewHMACSigner([]byte("secret"))
	data := []byte("hello")
	sig := s.Sign(data)
	if !s.Verify(data, sig) {
		t.Error("expected signature to verify")
	}
	if s.Verify([]byte("tampered"), sig) {
		t.Error("expected verification to fail for tampered data")
	}
}

func TestNodeSendCommandStoresLocationOnPeer(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)
	defer a.Shutdown()
	defer b.Shutdown()

	cancelA := runNode(t, a)
	cancelB := runNode(t, b)
	defer cancelA()
	defer cancelB()

	time.Sleep(10 * time.Millisecond)

	ts := uint32(time.Now().Unix())
	sign := dmtp.NewSIGN("alice", b.LocalAddr(), ts)
	// b's directory verifies with the shared key; b sees a's socket as
	// the record's source address.
	loc := &contact.Location{Source: a.LocalAddr(), Mapped: b.LocalAddr(), Timestamp: ts}
	sign.Sign = a.signer.Sign(loc.CanonicalBytes(dmtp.EncodeAddress))
	if _, err := a.SendCommand(sign, b.LocalAddr()); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if locs := b.Directory().GetLocations("alice"); len(locs) > 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected b's directory to have alice's location")
}

func TestNodeSendMessageDeliversToHandler(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)
	defer a.Shutdown()
	defer b.Shutdown()

	received := make(chan *dmtp.Message, 1)
	b.OnMessage = func(msg *dmtp.Message, src net.Addr) bool {
		received <- msg
		return true
	}

	cancelA := runNode(t, a)
	cancelB := runNode(t, b)
	defer cancelA()
	defer cancelB()

	time.Sleep(10 * time.Millisecond)

	msg := dmtp.NewMessage("alice", "bob", uint32(time.Now().Unix()), []byte("hi bob"))
	if _, err := a.SendMessage(msg, b.LocalAddr()); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	select {
	case got := <-received:
		if string(got.Content) != "hi bob" {
			t.Errorf("got content %q", got.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message delivery")
	}
}

package turn

import (
	"net"
	"testing"
	"time"
)

func TestAllocationIsValid(t *testing.T) {
	var a *Allocation
	if a.IsValid() {
		t.Error("nil allocation should not be valid")
	}

	a = &Allocation{ExpiresAt: time.Now().Add(time.Minute)}
	if !a.IsValid() {
		t.Error("future-expiring allocation should be valid")
	}

	a = &Allocation{ExpiresAt: time.Now().Add(-time.Minute)}
	if a.IsValid() {
		t.Error("past-expiring allocation should not be valid")
	}
}

func TestClientSendBeforeAllocateFails(t *testing.T) {
	server, err := NewServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer server.Close()
	go server.Serve()

	client, err := NewClient(DefaultClientConfig(server.LocalAddr().String()))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	err = client.Send([]byte("hi"), &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9})
	if err == nil {
		t.Error("expected error sending before an allocation exists")
	}
}

func TestAllocateCreatePermissionSendReceive(t *testing.T) {
	server, err := NewServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer server.Close()
	go server.Serve()

	client, err := NewClient(DefaultClientConfig(server.LocalAddr().String()))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	alloc, err := client.Allocate(5 * time.Minute)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if alloc.RelayAddr == nil {
		t.Fatal("allocation missing relay address")
	}
	if !alloc.IsValid() {
		t.Error("freshly granted allocation should be valid")
	}

	// A "peer" is just a UDP socket that talks to the relay address.
	peerConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("peer listen failed: %v", err)
	}
	defer peerConn.Close()
	peerAddr := peerConn.LocalAddr().(*net.UDPAddr)

	if err := client.CreatePermission(peerAddr); err != nil {
		t.Fatalf("CreatePermission failed: %v", err)
	}

	if err := client.Send([]byte("hello peer"), peerAddr); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	peerConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1500)
	n, from, err := peerConn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("peer did not receive relayed data: %v", err)
	}
	if string(buf[:n]) != "hello peer" {
		t.Errorf("peer payload = %q, want %q", buf[:n], "hello peer")
	}
	if !from.IP.Equal(alloc.RelayAddr.IP) || from.Port != alloc.RelayAddr.Port {
		t.Errorf("peer saw sender %v, want relay addr %v", from, alloc.RelayAddr)
	}

	// Peer replies; the client should see it as a Data Indication.
	if _, err := peerConn.WriteToUDP([]byte("hello client"), alloc.RelayAddr); err != nil {
		t.Fatalf("peer write failed: %v", err)
	}

	data, from, err := client.Receive()
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if string(data) != "hello client" {
		t.Errorf("client payload = %q, want %q", data, "hello client")
	}
	if !from.IP.Equal(peerAddr.IP) || from.Port != peerAddr.Port {
		t.Errorf("client saw peer %v, want %v", from, peerAddr)
	}
}

func TestSendWithoutPermissionIsDropped(t *testing.T) {
	server, err := NewServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer server.Close()
	go server.Serve()

	client, err := NewClient(DefaultClientConfig(server.LocalAddr().String()))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	if _, err := client.Allocate(time.Minute); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	peerConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("peer listen failed: %v", err)
	}
	defer peerConn.Close()
	peerAddr := peerConn.LocalAddr().(*net.UDPAddr)

	// No CreatePermission call: the relay server should drop this.
	if err := client.Send([]byte("should not arrive"), peerAddr); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	peerConn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, 1500)
	if _, _, err := peerConn.ReadFromUDP(buf); err == nil {
		t.Error("expected timeout: data should have been dropped without permission")
	}
}

func TestRefreshExtendsLifetime(t *testing.T) {
	server, err := NewServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer server.Close()
	go server.Serve()

	client, err := NewClient(DefaultClientConfig(server.LocalAddr().String()))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	if _, err := client.Allocate(time.Minute); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	if err := client.Refresh(10 * time.Minute); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if remaining := time.Until(client.Allocation().ExpiresAt); remaining < 9*time.Minute {
		t.Errorf("expected refreshed lifetime close to 10m, got %v remaining", remaining)
	}
}

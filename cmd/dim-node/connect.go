// Copyright (c) 2025
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/saintparish4/dim/pkg/dmtp"
	"github.com/saintparish4/dim/pkg/nat"
	"github.com/saintparish4/dim/pkg/punch"
)

func connectCommand(args []string) error {
	fs := flag.NewFlagSet("connect", flag.ExitOnError)
	peerAddr := fs.String("peer", "", "Remote peer's public endpoint (IP:PORT)")
	peerLocal := fs.String("peer-local", "", "Comma-separated local (LAN) addresses the peer reported out of band, tried before public hole punching")
	identifier := fs.String("id", "dim-node", "This node's DMTP identifier")
	initiator := fs.Bool("initiator", false, "Print that this run is the initiator; hole punching is simultaneous either way")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *peerAddr == "" {
		return fmt.Errorf("--peer flag is required (use --help for usage)")
	}

	remoteEndpoint, err := net.ResolveUDPAddr("udp", *peerAddr)
	if err != nil {
		return fmt.Errorf("invalid peer address: %w", err)
	}

	var peerLocalAddrs []*net.UDPAddr
	if *peerLocal != "" {
		for _, raw := range strings.Split(*peerLocal, ",") {
			addr, err := net.ResolveUDPAddr("udp", strings.TrimSpace(raw))
			if err != nil {
				return fmt.Errorf("invalid --peer-local address %q: %w", raw, err)
			}
			peerLocalAddrs = append(peerLocalAddrs, addr)
		}
	}

	fmt.Println("=== DIM P2P Connection ===")
	fmt.Println()

	n, err := loadNode("")
	if err != nil {
		return err
	}
	defer n.Shutdown()
	go n.Run(context.Background())

	fmt.Println("Step 1: Discovering public endpoint via STUN...")
	publicEndpoint, err := n.DiscoverPublicEndpoint()
	if err != nil {
		return fmt.Errorf("STUN discovery failed: %w", err)
	}
	fmt.Printf("✓ Your public endpoint: %s\n", publicEndpoint.PublicAddr)
	fmt.Println()

	fmt.Println("Step 2: Connection Information")
	fmt.Printf("  Your public IP:Port  : %s\n", publicEndpoint.PublicAddr)
	fmt.Printf("  Peer's public IP:Port: %s\n", remoteEndpoint)
	if localAddrs, err := punch.LocalPrivateAddrs(publicEndpoint.LocalAddr.Port); err == nil && len(localAddrs) > 0 {
		fmt.Println("  Your LAN addresses (share with the peer for --peer-local):")
		for _, a := range localAddrs {
			fmt.Printf("    %s\n", a)
		}
	}
	fmt.Println()

	fmt.Println("Step 3: Attempting UDP hole punch...")
	peer := &punch.PeerInfo{PublicAddr: remoteEndpoint, LocalAddrs: peerLocalAddrs, NATType: nat.TypeUnknown}
	if pconn, err := n.Punch(peer); err == nil {
		fmt.Printf("✓ Hole punch succeeded: %s\n", pconn)
		pconn.Close()
	} else {
		fmt.Printf("  Hole punch did not complete (%v); falling back to DMTP HI/SIGN over the node socket\n", err)
	}
	fmt.Println()

	fmt.Println("Step 4: Exchanging DMTP HI/SIGN...")
	hi := dmtp.NewHI(*identifier, uint32(time.Now().Unix()))
	if _, err := n.SendCommand(hi, remoteEndpoint); err != nil {
		return fmt.Errorf("sending HI failed: %w", err)
	}

	fmt.Println()
	fmt.Println("Connection handshake sent. The node will keep running and")
	fmt.Println("answering CALL/FROM/BYE exchanges. Press Ctrl+C to close.")

	if *initiator {
		fmt.Println("(running as initiator)")
	}
	select {}
}

func printConnectUsage() {
	fmt.Println("Usage: dim-node connect --peer IP:PORT [options]")
	fmt.Println()
	fmt.Println("Attempt a direct P2P connection through NAT hole punching, then")
	fmt.Println("send a DMTP HI over the node socket whether or not the punch succeeded.")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --peer string       Remote peer's public endpoint (required)")
	fmt.Println("                      Format: IP:PORT")
	fmt.Println("  --peer-local string Comma-separated peer LAN addresses, tried before")
	fmt.Println("                      public hole punching (exchange out of band)")
	fmt.Println("  --id string         This node's DMTP identifier (default: dim-node)")
	fmt.Println("  --initiator         Prints that this run is the initiator; both peers")
	fmt.Println("                      send PING at the same time regardless")
	fmt.Println()
	fmt.Println("Example:")
	fmt.Println("  dim-node connect --peer 198.51.100.200:54321 --initiator")
}

// Copyright (c) 2025
// SPDX-License-Identifier: MIT

// Command dim-node runs a DIM peer: it discovers its public endpoint via
// STUN, registers its location, and can exchange DMTP commands and
// messages with other peers.
package main

import (
	"fmt"
	"os"

	"github.com/saintparish4/dim/internal/config"
	"github.com/saintparish4/dim/pkg/node"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "discover":
		if err := discoverCommand(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "connect":
		if len(os.Args) > 2 && (os.Args[2] == "-h" || os.Args[2] == "--help") {
			printConnectUsage()
			return
		}
		if err := connectCommand(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "version", "-v", "--version":
		fmt.Println("dim-node version 1.0.0")
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func loadNode(configPath string) (*node.Node, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	nodeCfg := node.DefaultConfig()
	nodeCfg.ListenAddr = cfg.ListenAddr
	nodeCfg.Identifier = cfg.Identifier
	nodeCfg.STUNServer = cfg.StunServer
	nodeCfg.SigningKey = []byte(cfg.SigningKey)

	return node.New(nodeCfg)
}

func discoverCommand(args []string) error {
	fmt.Println("Discovering public endpoint via STUN...")

	n, err := loadNode("")
	if err != nil {
		return err
	}
	defer n.Shutdown()

	endpoint, err := n.DiscoverPublicEndpoint()
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	fmt.Printf("\n✓ Discovered public endpoint: %s\n", endpoint)
	fmt.Println()
	fmt.Println("Share this endpoint with your peer to establish a connection.")
	return nil
}

func printUsage() {
	fmt.Println("dim-node - DIM NAT-traversal peer")
	fmt.Println()
	fmt.Println("Usage: dim-node <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  discover        Discover your public IP and port using STUN")
	fmt.Println("  connect         Establish a P2P connection to a remote peer")
	fmt.Println("  version         Show version information")
	fmt.Println("  help            Show this help message")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  dim-node discover")
	fmt.Println("  dim-node connect --peer 203.0.113.5:54321 --initiator")
	fmt.Println()
	fmt.Println("For detailed help on a command:")
	fmt.Println("  dim-node <command> --help")
}

// Command dim-rendezvous runs the DIM rendezvous server: a WebSocket
// front-end over a contact directory that lets peers register their
// location and query for peers in the same realm.
//
// Usage:
//
//	dim-rendezvous [flags]
//
// Flags:
//
//	-addr string    Listen address (default ":8080")
//	-config string  Path to a config file (optional)
//	-verbose        Enable verbose logging
//
// Endpoints:
//
//	WebSocket: ws://host:port/ws
//	Health:    GET /health
//	Stats:     GET /api/stats
//	Realms:    GET /api/realms
package main

import (
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/saintparish4/dim/internal/config"
	"github.com/saintparish4/dim/internal/logging"
	"github.com/saintparish4/dim/pkg/contact"
	"github.com/saintparish4/dim/pkg/dmtp"
	"github.com/saintparish4/dim/pkg/node"
	"github.com/saintparish4/dim/pkg/rendezvous"
)

var version = "dev" // Set via ldflags

func main() {
	addr := flag.String("addr", "", "Listen address (e.g., :8080 or 0.0.0.0:8080)")
	configPath := flag.String("config", "", "Path to a config file")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("dim-rendezvous %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	level := logging.ParseLevel(cfg.LogLevel)
	if *verbose {
		level = logging.LevelDebug
	}
	logger := logging.New(os.Stdout, level)

	srvCfg := rendezvous.DefaultConfig()
	if *addr != "" {
		srvCfg.Addr = *addr
	}
	srvCfg.Upgrader = rendezvous.NewGorillaUpgrader()
	srvCfg.NewDirectory = func() *contact.Directory {
		signer := node.NewHMACSigner([]byte(cfg.SigningKey))
		return contact.NewDirectory(signer, encodeUDPAddr)
	}
	srvCfg.Logger = logger.Std()

	server := rendezvous.NewServer(srvCfg)

	printBanner(srvCfg.Addr, level)

	// Server.Start installs its own SIGINT/SIGTERM handler and blocks
	// until Shutdown is called or the listener fails.
	if err := server.Start(); err != nil {
		logger.Error("server error: %v", err)
		os.Exit(1)
	}
}

// encodeUDPAddr renders a UDP address into the canonical byte form
// signed over by the directory's SignatureProvider.
func encodeUDPAddr(a *net.UDPAddr) []byte {
	if a == nil {
		return nil
	}
	return dmtp.EncodeAddress(a)
}

func printBanner(addr string, level logging.Level) {
	fmt.Println()
	fmt.Println("  dim-rendezvous")
	fmt.Println()
	fmt.Printf(" WebSocket:  ws://localhost%s/ws\n", addr)
	fmt.Printf(" Health:     http://localhost%s/health\n", addr)
	fmt.Printf(" Stats:      http://localhost%s/api/stats\n", addr)
	fmt.Printf(" Realms:     http://localhost%s/api/realms\n", addr)
	fmt.Println()
	fmt.Printf(" Log level:  %s\n", level)
	fmt.Println(" Press Ctrl+C to stop")
	fmt.Println()
}

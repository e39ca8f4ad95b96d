// Command dim-stund runs a standalone STUN reflector and TURN relay,
// the server half of pkg/stun and pkg/turn that peers use for public
// endpoint discovery and last-resort relayed connectivity.
//
// Usage:
//
//	dim-stund [flags]
//
// Flags:
//
//	-stun-addr string   STUN listen address (default ":3478")
//	-turn-addr string   TURN listen address (default ":3479")
//	-no-turn            Disable the TURN relay, run STUN only
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/saintparish4/dim/pkg/stun"
	"github.com/saintparish4/dim/pkg/turn"
)

func main() {
	stunAddr := flag.String("stun-addr", ":3478", "STUN listen address")
	turnAddr := flag.String("turn-addr", ":3479", "TURN listen address")
	noTurn := flag.Bool("no-turn", false, "disable the TURN relay")
	flag.Parse()

	stunServer, err := stun.NewServer(*stunAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stun: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("STUN reflector listening on %s\n", stunServer.LocalAddr())
	go func() {
		if err := stunServer.Serve(); err != nil {
			fmt.Fprintf(os.Stderr, "stun serve error: %v\n", err)
		}
	}()

	var turnServer *turn.Server
	if !*noTurn {
		turnServer, err = turn.NewServer(*turnAddr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "turn: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("TURN relay listening on %s\n", turnServer.LocalAddr())
		go func() {
			if err := turnServer.Serve(); err != nil {
				fmt.Fprintf(os.Stderr, "turn serve error: %v\n", err)
			}
		}()
	}

	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("shutting down...")
	stunServer.Close()
	if turnServer != nil {
		turnServer.Close()
	}
}

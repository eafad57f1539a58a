// Command loadtest drives a running ChatNest server with simulated users.
//
//	loadtest saturate  open N authenticated idle connections and hold them
//	loadtest chat      N users post to the room and measure ack and broadcast latency
//
// The server limits sign-ins and WebSocket connects per client address, so
// runs from a single host record the excess as signup and dial errors.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "saturate":
		runSaturate(os.Args[2:])
	case "chat":
		runChat(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  saturate    Open N authenticated connections and hold them idle")
	fmt.Println("  chat        N users post messages and measure ack and broadcast latency")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}

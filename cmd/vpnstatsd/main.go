package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/VitalyZnachenok/openvpn-server-dashboard/cmd/vpnstatsd/commands"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		commands.RunDaemon(os.Args[2:], logger)
	case "cleanup":
		commands.Cleanup(os.Args[2:], logger)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: vpnstatsd <command> [options]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  run       Start the statistics collector and API server")
	fmt.Fprintln(os.Stderr, "  cleanup   Run one retention purge pass and exit")
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/openfroyo/gatewaysetup/cmd/gwsetup/commands"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The orchestrator stops between steps and persists what it has.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "Received interrupt signal, stopping after the current step...")
		cancel()
	}()

	app := commands.NewApp(Version, Commit, BuildDate)
	if err := commands.Execute(ctx, app); err != nil {
		fmt.Fprintf(os.Stderr, "gwsetup: %v\n", err)
		cancel()
		os.Exit(commands.ExitCode(err))
	}
}

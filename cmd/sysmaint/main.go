package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sysmaint/sysmaint/cmd/sysmaint/commands"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	// Cancellation is observed between workflow steps; a running step finishes.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	code := commands.Execute(ctx, commands.BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	})
	stop()
	os.Exit(code)
}

// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"beatlight/cmd"
	"beatlight/internal/log"
	"beatlight/pkg/build"
)

// main wires build information and signal handling around the command line.
// Every command runs until it finishes or SIGINT/SIGTERM cancels its context;
// the run command then stops the tick loop, the session and audio in order.
func main() {
	// Development builds carry no ldflags and report "unknown".
	if err := build.Initialize(); err != nil {
		log.Debugf("Build info: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		stop()
		log.Fatalf("%v", err)
	}
}

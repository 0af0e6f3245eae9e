package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/droidpilot/cmd"
	"github.com/xkilldash9x/droidpilot/internal/observability"
)

const panicLogFile = "panic.log"

var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
)

func main() {
	defer handlePanic()

	// SIGTERM is how the orchestrator stops its workers and how `stop`
	// reaches the orchestrator.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			osExit(0)
			return
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		osExit(1)
	}
}

// handlePanic writes the crash to panic.log so it survives a worker whose
// stderr nobody is reading.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	msg := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(msg), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n", err)
	}
	fmt.Fprintf(os.Stderr, "%s\nDetails logged to %s\n", msg, panicLogFile)
	osExit(2)
}

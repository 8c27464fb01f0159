// Command taskflow runs task workflows built from templates.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aristath/taskflow/internal/scheduler"
	"github.com/aristath/taskflow/internal/template"
)

func main() {
	// Create signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp()

	// The first signal stops dispatching and lets running attempts finish.
	// A second one kills every tracked subprocess.
	go func() {
		<-ctx.Done()
		stop()
		force := make(chan os.Signal, 1)
		signal.Notify(force, os.Interrupt, syscall.SIGTERM)
		<-force
		fmt.Fprintln(os.Stderr, "Killing running agents...")
		if err := a.procs.KillAll(); err != nil {
			fmt.Fprintf(os.Stderr, "Error killing subprocesses: %v\n", err)
		}
	}()

	err := newRootCmd(a).ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for problems with the workflow definition and 1 otherwise.
func exitCode(err error) int {
	var cfgErr *scheduler.ConfigurationError
	switch {
	case errors.As(err, &cfgErr),
		errors.Is(err, template.ErrInvalidTemplate),
		errors.Is(err, template.ErrMissingParams),
		errors.Is(err, template.ErrUnresolvedPlaceholder),
		errors.Is(err, template.ErrMalformedPlaceholder),
		errors.Is(err, template.ErrTemplateNotFound):
		return 2
	}
	return 1
}

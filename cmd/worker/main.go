package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cassiomorais/terminalpay/internal/bootstrap"
)

// The worker resumes sessions whose orchestrating instance died. It needs a
// shared store; with the memory store it only sees its own sessions.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "terminalpay-worker", "terminalpay_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	if app.Config.Store.Driver == "memory" {
		app.Logger.Warn().Msg("Worker running against the memory store; nothing to reconcile across processes")
	}

	app.Logger.Info().Str("instance_id", app.Config.InstanceID).Msg("Worker started")
	if err := app.RunBackground(ctx); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("Worker error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
	defer cancel()
	app.Close(shutdownCtx)
	app.Logger.Info().Msg("Worker exited")
}

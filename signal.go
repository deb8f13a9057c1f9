package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// shutdownSignals stop the server.
var shutdownSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

// shutdownContext returns a context that cancels on the first SIGINT/SIGTERM
// and force-exits on the second. The first signal lets in-flight transfers
// finish within the server's shutdown window. stop releases the handler.
func shutdownContext(parent context.Context, logger *slog.Logger) (ctx context.Context, stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, shutdownSignals...)

	ctx, cancel := context.WithCancel(parent)
	released := make(chan struct{})

	go watchSignals(sigCh, released, cancel, logger, os.Exit)

	return ctx, func() {
		signal.Stop(sigCh)
		close(released)
		cancel()
	}
}

// watchSignals cancels on the first signal and calls exit on the second.
// It returns once released is closed.
func watchSignals(sigCh <-chan os.Signal, released <-chan struct{}, cancel func(), logger *slog.Logger, exit func(int)) {
	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down server (repeat to force exit)",
			slog.String("signal", sig.String()),
		)
		cancel()
	case <-released:
		return
	}

	select {
	case sig := <-sigCh:
		logger.Warn("received second signal, forcing exit",
			slog.String("signal", sig.String()),
		)
		exit(1)
	case <-released:
	}
}

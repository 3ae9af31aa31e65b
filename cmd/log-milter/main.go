// Command log-milter is a no-op milter that logs all milter communication.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	milter "github.com/d--j/go-milter-agent"
	"github.com/d--j/go-milter-agent/server"
	"github.com/spf13/cobra"
)

type flags struct {
	network string
	address string
	json    bool
	debug   bool
}

func newLogger(w io.Writer, f flags) *slog.Logger {
	level := slog.LevelInfo
	if f.debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if f.json {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// listen binds the milter socket. Unix sockets get mode 0660 and a cleanup function that removes them.
func listen(network, address string) (net.Listener, func(), error) {
	if network == "unix" {
		// ignore os.Remove errors
		_ = os.Remove(address)
	}
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {}
	if network == "unix" {
		if err := os.Chmod(address, 0660); err != nil {
			_ = ln.Close()
			return nil, nil, err
		}
		cleanup = func() {
			_ = os.Remove(address)
		}
	}
	return ln, cleanup, nil
}

// negotiate accepts everything the MTA offers, but does not disable any protocol step.
func negotiate(logger *slog.Logger) server.NegotiationCallbackFunc {
	return func(mta, _ milter.Option, offered milter.DataSize) (milter.Option, milter.DataSize, error) {
		logger.Info("accept milter", "version", mta.Version, "actions", mta.Action.String(), "protocol", mta.Step.String(), "data_size", offered)
		return milter.NewOption(mta.Version, mta.Action, 0), offered, nil
	}
}

// serve runs the log milter on ln until ctx is done.
func serve(ctx context.Context, ln net.Listener, logger *slog.Logger) error {
	s := server.New(
		server.WithMilter(func() server.Milter {
			return newLogMilter(logger)
		}),
		server.WithNegotiationCallback(negotiate(logger)),
	)
	done := make(chan error, 1)
	go func() {
		done <- s.Serve(ln)
	}()
	logger.Info("started milter", "network", ln.Addr().Network(), "address", ln.Addr().String())

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}
	if err := s.Close(); err != nil && !errors.Is(err, server.ErrServerClosed) {
		return err
	}
	if err := <-done; err != nil && !errors.Is(err, server.ErrServerClosed) {
		return err
	}
	return nil
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:           "log-milter",
		Short:         "Run a milter that accepts everything and logs every event",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(cmd.ErrOrStderr(), f)
			milter.SetLogger(logger)
			ln, cleanup, err := listen(f.network, f.address)
			if err != nil {
				return err
			}
			defer cleanup()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, ln, logger)
		},
	}
	cmd.Flags().StringVar(&f.network, "transport", "tcp", "Transport to use for milter connection, One of 'tcp', 'unix', 'tcp4' or 'tcp6'")
	cmd.Flags().StringVar(&f.address, "address", "127.0.0.1:0", "Transport address, path for 'unix', address:port for 'tcp'")
	cmd.Flags().BoolVar(&f.json, "json", false, "Log in JSON format")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "Also log protocol details of the library")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

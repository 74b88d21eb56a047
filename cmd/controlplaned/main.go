// Command controlplaned runs the control plane server: it binds the
// event stream listener and, optionally, the debug/introspection HTTP
// surface, and serves until interrupted.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/flowmesh/controlplane/internal/config"
	"github.com/flowmesh/controlplane/internal/httpapi"
	"github.com/flowmesh/controlplane/internal/publisher"
	"github.com/flowmesh/controlplane/internal/server"
	"github.com/flowmesh/controlplane/internal/store"
	"github.com/spf13/cobra"
)

var (
	bind        string
	debugBind   string
	configPath  string
	logLevel    string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "controlplaned",
		Short: "Run the control plane event server",
		RunE:  runServe,
	}

	cmd.Flags().StringVar(&bind, "bind", "", "address to bind the event stream listener on (required; localhost:0 selects an ephemeral port)")
	cmd.Flags().StringVar(&debugBind, "debug-bind", "", "address to bind the debug/introspection HTTP surface on")
	cmd.Flags().StringVar(&configPath, "config", "", "path to a TOML configuration file")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if bind != "" {
		cfg.Bind = bind
	}

	if debugBind != "" {
		cfg.DebugBind = debugBind
	}

	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if cfg.Bind == "" {
		return fmt.Errorf("--bind is required")
	}

	logger := configureLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	l, err := net.Listen("tcp", cfg.Bind)
	if err != nil {
		return fmt.Errorf("bind %s: %w", cfg.Bind, err)
	}
	logger.Info("event server listening", slog.String("addr", l.Addr().String()))

	s := store.New()
	pub := publisher.New()
	srv := server.New(s, pub, logger)

	if cfg.DebugBind != "" {
		debugListener, err := net.Listen("tcp", cfg.DebugBind)
		if err != nil {
			return fmt.Errorf("bind debug %s: %w", cfg.DebugBind, err)
		}
		logger.Info("debug http listening", slog.String("addr", debugListener.Addr().String()))

		httpSrv := &http.Server{Handler: httpapi.NewHandler(s)}
		go func() {
			<-ctx.Done()
			_ = httpSrv.Close()
		}()

		go func() {
			if err := httpSrv.Serve(debugListener); err != nil && ctx.Err() == nil {
				logger.Error("debug http server exited", "error", err)
			}
		}()
	}

	if err := srv.Serve(ctx, l); err != nil && ctx.Err() == nil {
		return fmt.Errorf("event server: %w", err)
	}

	return nil
}

func configureLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		log.Printf("invalid log level %q, defaulting to info", level)
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

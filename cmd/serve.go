package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentbus/internal/bus"
	"github.com/nextlevelbuilder/agentbus/internal/config"
	"github.com/nextlevelbuilder/agentbus/internal/gateway"
	"github.com/nextlevelbuilder/agentbus/internal/gateway/methods"
	"github.com/nextlevelbuilder/agentbus/internal/httpapi"
	"github.com/nextlevelbuilder/agentbus/internal/metrics"
	"github.com/nextlevelbuilder/agentbus/internal/room"
	"github.com/nextlevelbuilder/agentbus/internal/store/sqlite"
	"github.com/nextlevelbuilder/agentbus/internal/tracing"
)

// Exit codes. 2 means persistence could not be initialized, which usually
// needs operator attention (disk, permissions, schema version). 130 is the
// conventional 128+SIGINT code for an interrupted run.
const (
	exitOK          = 0
	exitFailure     = 1
	exitPersistence = 2
	exitInterrupt   = 130
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the broker (the default command)",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	if code := serve(); code != exitOK {
		os.Exit(code)
	}
}

func serve() int {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("config load failed", "error", err)
		return exitFailure
	}
	setupLogging(cfg)
	slog.Info("agentbus starting", "version", Version, "data_dir", cfg.DataDir)

	stores, db, err := sqlite.NewStores(cfg.DataDir)
	if err != nil {
		slog.Error("persistence init failed", "error", err)
		return exitPersistence
	}
	defer db.Close()

	m := metrics.New()
	registry := gateway.NewRegistry(cfg.MaxConnections, cfg.MaxConnectionsPerClient)

	busCfg := bus.DefaultConfig()
	busCfg.SoftCap = cfg.QueueSoftCap
	busCfg.BaseDelay = cfg.RetryBaseDelay()
	busCfg.MaxAttempts = cfg.RetryMaxAttempts
	busCfg.DefaultTTL = cfg.DefaultTTL()
	b := bus.New(busCfg, stores.Messages, registry, m)

	engine := room.New(room.Config{
		CodeExecEnabled: cfg.CodeExecEnabled,
		SandboxEndpoint: cfg.SandboxEndpoint,
	}, stores, registry, m)

	srv := gateway.NewServer(cfg, b, engine, stores.Messages, stores.Tokens, m, registry)
	methods.NewRoomMethods(engine).Register(srv.Router())

	// Signals are received on an explicit channel rather than through
	// signal.NotifyContext so SIGINT and SIGTERM map to different exit codes.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracer, shutdownTracing, err := tracing.Init(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("tracing init failed, continuing without export", "error", err)
	}
	defer shutdownTracing(context.Background())
	if tracer != nil {
		srv.SetTracer(tracer)
	}

	if err := b.Start(ctx); err != nil {
		slog.Error("message core start failed", "error", err)
		return exitPersistence
	}
	if err := engine.Start(ctx); err != nil {
		b.Stop()
		slog.Error("room engine start failed", "error", err)
		return exitPersistence
	}

	api := httpapi.New(cfg, b, engine, stores.Messages, srv)
	api.RegisterRoutes(srv.BuildMux())
	api.SetReady(true)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(ctx)
	}()

	exit := exitOK
	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", "signal", sig.String())
		exit = exitCodeForSignal(sig)
		api.SetReady(false)
		srv.BroadcastShutdown()
		cancel()
		<-serverErr
	case err := <-serverErr:
		if err != nil {
			slog.Error("server failed", "error", err)
			engine.Stop()
			b.Stop()
			return exitFailure
		}
	}

	engine.Stop()
	b.Stop()
	slog.Info("agentbus stopped")
	return exit
}

// exitCodeForSignal maps the shutdown signal to the process exit code:
// 130 for SIGINT, 0 for an orderly SIGTERM.
func exitCodeForSignal(sig os.Signal) int {
	if sig == os.Interrupt {
		return exitInterrupt
	}
	return exitOK
}

// setupLogging configures the process-wide slog handler.
func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

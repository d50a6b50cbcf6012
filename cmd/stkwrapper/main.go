package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nobwow/stkwrapper-go/internal/addonsync"
	"github.com/nobwow/stkwrapper-go/internal/cli"
	"github.com/nobwow/stkwrapper-go/internal/fleet"
	"github.com/nobwow/stkwrapper-go/internal/store"
)

const (
	FleetConfigPath = "config/fleet.json"
	AddonConfigPath = "config/addon_updater.ini"
	HistoryFile     = "data/stkwrapper_history"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(os.Getenv("STKWRAPPER_LOG_LEVEL")),
	})))
	slog.Info("stkwrapper starting")

	fleetCfgPath := FleetConfigPath
	if p := os.Getenv("STKWRAPPER_FLEET_CONFIG"); p != "" {
		fleetCfgPath = p
	}
	f, err := fleet.New(fleetCfgPath)
	if err != nil {
		return fmt.Errorf("constructing fleet: %w", err)
	}

	addonCfgPath := AddonConfigPath
	if p := os.Getenv("STKWRAPPER_ADDON_CONFIG"); p != "" {
		addonCfgPath = p
	}
	syncer, err := addonsync.New(addonCfgPath, f.STKVersion())
	if err != nil {
		return fmt.Errorf("constructing addon syncer: %w", err)
	}
	syncer.SetRestartSignal(f.RestartSignal())

	dsn := os.Getenv("STKWRAPPER_DSN")
	if dsn != "" {
		if err := store.RunMigrations(ctx, dsn); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		slog.Info("database migrations applied")

		db, err := store.New(ctx, dsn)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer db.Close()
		f.SetStore(db)
		syncer.SetStore(db)
		slog.Info("database connected")
	} else {
		slog.Info("no STKWRAPPER_DSN configured, running with no-op event store")
		f.SetStore(store.NullStore{})
		syncer.SetStore(store.NullStore{})
	}

	dispatcher := cli.New(f, syncer)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting fleet supervisor")
		if err := f.Run(gctx); err != nil && gctx.Err() == nil {
			return fmt.Errorf("fleet supervisor: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("starting addon autoupdate task")
		syncer.AutoupdateTask(gctx)
		return nil
	})

	g.Go(func() error {
		historyFile := HistoryFile
		if p := os.Getenv("STKWRAPPER_HISTORY_FILE"); p != "" {
			historyFile = p
		}
		if err := dispatcher.Run(gctx, historyFile); err != nil {
			return fmt.Errorf("cli dispatcher: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("stkwrapper error: %w", err)
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

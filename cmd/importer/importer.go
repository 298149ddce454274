package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/obsreg/importer/internal/api"
	"github.com/obsreg/importer/internal/log"
	"github.com/obsreg/importer/internal/protocol"
	"github.com/obsreg/importer/internal/registry"
	"github.com/obsreg/importer/internal/report"
	"github.com/obsreg/importer/internal/service"
	"github.com/obsreg/importer/internal/store"
	"github.com/obsreg/importer/internal/worker"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// drainTimeout bounds how long serve waits for running workers on shutdown.
const drainTimeout = 30 * time.Second

func doServe(cmd *cobra.Command, _ []string) error {
	ctx := log.ContextAttrs(cmd.Context(), slog.Group("importer",
		slog.String("cmd", "serve"),
		slog.Int("pid", os.Getpid()),
	))

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving own executable: %w", err)
	}
	workerCmd, err := service.CommandFromConfig(config.Worker, self, configPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(config.Service.UploadsDir, 0o750); err != nil {
		return fmt.Errorf("creating uploads dir: %w", err)
	}
	uploads, err := os.OpenRoot(config.Service.UploadsDir)
	if err != nil {
		return fmt.Errorf("opening uploads dir: %w", err)
	}
	defer func() {
		_ = uploads.Close()
	}()
	reports, err := report.NewStore(config.Service.ReportsDir)
	if err != nil {
		return err
	}
	defer func() {
		_ = reports.Close()
	}()

	// workers outlive the signal context so running jobs can drain
	workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWorkers()

	reg := registry.New()
	if config.Retention != nil {
		maxAge, err := config.Retention.MaxAgeDuration()
		if err != nil {
			return err
		}
		retention := service.NewRetention(maxAge, map[string]service.Pruner{
			"uploads": service.NewUploads(uploads, reg),
			"reports": reports,
		})
		sweeper, err := retention.Schedule(ctx, config.Retention.Schedule)
		if err != nil {
			return err
		}
		defer func() {
			<-sweeper.Stop().Done()
		}()
	}

	launcher := service.NewProcessLauncher(workerCmd, forwardStderr)
	coordinator := service.NewCoordinator(workerCtx, reg, launcher, reports, config.Service.ReportRoute)
	handler := api.NewImportHandler(coordinator, service.NewStatusQuery(reg), uploads, reports)
	server := api.NewServer(config.Service, handler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.InfoContext(ctx, "listening", "addr", config.Service.Listen)
		if err := server.Start(config.Service.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.InfoContext(ctx, "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}

		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
		defer cancel()
		if err := coordinator.Wait(drainCtx); err != nil {
			slog.WarnContext(ctx, "workers still running, killing them", "registered", reg.Len())
			stopWorkers()
			return coordinator.Wait(context.WithoutCancel(ctx))
		}
		return nil
	})
	return g.Wait()
}

// forwardStderr relays worker log lines. They are already structured, so
// they are passed through as a single attribute.
func forwardStderr(ctx context.Context, line string) {
	slog.DebugContext(ctx, "worker", "stderr", line)
}

func doImport(cmd *cobra.Command, _ []string) error {
	ctx := log.ContextAttrs(cmd.Context(), slog.Group("importer",
		slog.String("cmd", "_import"),
		slog.Int("pid", os.Getpid()),
	))

	uploads, err := os.OpenRoot(config.Service.UploadsDir)
	if err != nil {
		return fmt.Errorf("opening uploads dir: %w", err)
	}
	defer func() {
		_ = uploads.Close()
	}()

	var (
		reference worker.ReferenceLookup
		entries   worker.Store = worker.NewMemoryStore()
	)
	if config.Database != nil {
		db, err := store.Open(ctx, config.Database.DSN)
		if err != nil {
			// the coordinator learns the reason from the fault frame
			return errors.Join(err, protocol.NewEncoder(os.Stdout).Encode(protocol.Fault(err)))
		}
		defer func() {
			_ = db.Close()
		}()
		reference = db.Reference()
		entries = db.Entries()
	} else {
		slog.WarnContext(ctx, "no database configured: reference checks are skipped and entries are not persisted")
	}

	w := worker.New(uploads, reference, entries, config.Worker.ProgressEvery)
	return w.Serve(ctx, os.Stdin, os.Stdout)
}

func doMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if config.Database == nil {
		return errors.New("no database configured")
	}
	db, err := store.Open(ctx, config.Database.DSN)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	slog.InfoContext(ctx, "schema migrated")
	return nil
}

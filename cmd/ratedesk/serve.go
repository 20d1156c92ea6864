package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/ratedesk/internal/api"
	"github.com/opensource-finance/ratedesk/internal/bus"
	"github.com/opensource-finance/ratedesk/internal/cache"
	"github.com/opensource-finance/ratedesk/internal/clauses"
	"github.com/opensource-finance/ratedesk/internal/domain"
	"github.com/opensource-finance/ratedesk/internal/logging"
	"github.com/opensource-finance/ratedesk/internal/masterdata"
	"github.com/opensource-finance/ratedesk/internal/metrics"
	"github.com/opensource-finance/ratedesk/internal/options"
	"github.com/opensource-finance/ratedesk/internal/pricing"
	"github.com/opensource-finance/ratedesk/internal/rating"
	"github.com/opensource-finance/ratedesk/internal/repository"
	"github.com/opensource-finance/ratedesk/internal/storage"
	"github.com/opensource-finance/ratedesk/internal/upsert"
	"github.com/opensource-finance/ratedesk/internal/worker"
)

var serveInsurers []string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reference backend and the pricing worker",
	Long: `Serve the configuration, master-data, quote-bundle and upload API over
the configured store, and price quotes for the listed insurers over the
event bus.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringSliceVar(&serveInsurers, "insurers", nil, "insurers whose bus topics this node serves")
}

func runServe(cmd *cobra.Command, _ []string) error {
	log := logging.Named("main")
	log.Infow("starting ratedesk", "version", Version, "commit", Commit, "build_date", BuildDate)
	log.Infow("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"storage", cfg.Storage.Enabled,
		"tracing", cfg.Tracing.Enabled,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("initialize repository: %w", err)
	}
	defer repo.Close()

	store, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("initialize cache: %w", err)
	}
	defer store.Close()

	eventBus, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("initialize event bus: %w", err)
	}
	defer eventBus.Close()

	local := repository.Local{Repo: repo}
	master := masterdata.NewCached(masterdata.Store{Repo: repo}, store, cfg.Cache.MasterDataTTL)
	registry := rating.NewRegistry(m)
	opts := []upsert.Option{upsert.WithMetrics(m)}

	quoter := &pricing.Quoter{
		Calc:      pricing.NewCalculator(registry),
		Proposals: local,
		Ranges:    rating.NewService(local, nil, opts...),
		Options:   options.NewService(local, master, opts...),
		Clauses:   clauses.NewService(local, opts...),
		Master:    master,
	}

	w := worker.NewWorker(eventBus, registry, quoter, master)
	if err := w.Start(worker.Config{InsurerIDs: insurerList(serveInsurers)}); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer w.Stop()

	deps := api.Deps{Repo: repo, Bus: eventBus, Quoter: quoter, Metrics: m, Version: Version}
	if cfg.Storage.Enabled {
		uploader, err := storage.NewMinioUploader(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("initialize storage: %w", err)
		}
		deps.Uploader = uploader
	}

	srv := api.NewServer(cfg.Server, deps)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	log.Infow("ratedesk is ready", "host", cfg.Server.Host, "port", cfg.Server.Port, "insurers", serveInsurers)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}
	log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	log.Info("ratedesk shutdown complete")
	return nil
}

// insurerList accepts repeated and comma-separated values.
func insurerList(in []string) []string {
	var out []string
	for _, v := range in {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" && id != domain.GlobalTenant {
				out = append(out, id)
			}
		}
	}
	return out
}

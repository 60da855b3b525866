package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AurelienDEMEUSY/SUI-patreon/internal/database"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/events"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/messaging"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/models"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/services"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the checkpoint indexer",
	Long:  `Consume checkpoints from Azure Service Bus, commit their mutations in order and reconcile creator counts`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ns, err := events.NewNamespace(cfg.Indexer.PackageID)
	if err != nil {
		return errors.Wrap(err, "invalid indexer.package_id")
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	db, readOnlyDB, err := database.Connect(cfg.DB)
	if err != nil {
		return err
	}
	defer func() {
		_ = database.Close(db)
		if readOnlyDB != db {
			_ = database.Close(readOnlyDB)
		}
	}()

	// Auto-migrate only the write database
	if err := models.SetupModels(db); err != nil {
		return err
	}

	redisCache := initCache(cfg.Redis)
	defer redisCache.Close()

	tracer := initTracer(cfg.Tracing)
	defer tracer.Close()

	elasticClient := initSearch(cfg.Elastic)
	reg, collector := initMetrics()

	indexer := services.NewIndexerService(
		db,
		ns,
		cfg.Indexer.Pipeline,
		cfg.Indexer.DecodeWorkers,
		redisCache,
		elasticClient,
		collector,
		tracer,
	)

	if hi, ok, err := indexer.Watermark(ctx); err != nil {
		return err
	} else if ok {
		collector.Watermark.Set(float64(hi))
		log.Info().Int64("checkpoint", hi).Str("pipeline", cfg.Indexer.Pipeline).Msg("Resuming after watermark")
	}

	bus, err := messaging.NewAzureClient(cfg.Azure, cfg.Indexer.BatchSize)
	if err != nil {
		return err
	}
	defer bus.Close(context.Background())

	// Checkpoint consumer
	g.Go(func() error {
		return bus.Start(ctx, indexer)
	})

	// Denormalized count reconciliation
	if cfg.Reconcile.Interval > 0 {
		g.Go(func() error {
			scheduler, err := gocron.NewScheduler()
			if err != nil {
				return err
			}

			_, err = scheduler.NewJob(
				gocron.DurationJob(cfg.Reconcile.Interval),
				gocron.NewTask(func() {
					if _, err := indexer.ReconcileCounts(ctx); err != nil {
						log.Error().Err(err).Msg("Failed to reconcile creator counts")
					}
				}),
				gocron.WithSingletonMode(gocron.LimitModeReschedule),
				gocron.WithStartAt(gocron.WithStartImmediately()),
			)
			if err != nil {
				return err
			}

			log.Info().Dur("interval", cfg.Reconcile.Interval).Msg("Starting count reconciliation job")
			scheduler.Start()

			<-ctx.Done()
			return scheduler.Shutdown()
		})
	}

	// Metrics and liveness
	if cfg.Metrics.Address != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if err := database.Ping(db); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		metricsServer := &http.Server{Addr: cfg.Metrics.Address, Handler: mux}

		g.Go(func() error {
			log.Info().Str("address", cfg.Metrics.Address).Msg("Starting metrics server")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "metrics server error")
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}

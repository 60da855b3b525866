package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/AurelienDEMEUSY/SUI-patreon/internal/checkpoint"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/database"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/events"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/models"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/services"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/tracing"
)

var replayCmd = &cobra.Command{
	Use:   "replay <file>...",
	Short: "Commit checkpoint JSON files directly, bypassing the queue",
	Long: `Process checkpoint files through the same decode and commit path as the worker.
Checkpoints at or below the pipeline watermark are skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	ns, err := events.NewNamespace(cfg.Indexer.PackageID)
	if err != nil {
		return errors.Wrap(err, "invalid indexer.package_id")
	}

	cps := make([]*checkpoint.Checkpoint, 0, len(args))
	for _, path := range args {
		cp, err := readCheckpointFile(path)
		if err != nil {
			return err
		}
		cps = append(cps, cp)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	if err := models.SetupModels(db); err != nil {
		return err
	}

	redisCache := initCache(cfg.Redis)
	defer redisCache.Close()

	indexer := services.NewIndexerService(
		db,
		ns,
		cfg.Indexer.Pipeline,
		cfg.Indexer.DecodeWorkers,
		redisCache,
		initSearch(cfg.Elastic),
		nil,
		tracing.Noop(),
	)

	done, err := indexer.ProcessBatch(ctx, cps)
	if err != nil {
		log.Error().Err(err).Int("committed", done).Int("total", len(cps)).Msg("Replay stopped")
		return err
	}
	log.Info().Int("checkpoints", done).Msg("Replay finished")
	return nil
}

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AurelienDEMEUSY/SUI-patreon/internal/api"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/database"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the read API",
	Long:  `Serve indexed creators, posts and subscriptions over HTTP`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
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

	redisCache := initCache(cfg.Redis)
	defer redisCache.Close()

	tracer := initTracer(cfg.Tracing)
	defer tracer.Close()

	elasticClient := initSearch(cfg.Elastic)
	reg, collector := initMetrics()

	server := api.NewServer(cfg, db, readOnlyDB, redisCache, elasticClient, collector, reg, tracer)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-ctx.Done()
		return server.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("API server error")
		return err
	}
	return nil
}

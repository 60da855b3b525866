package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/AurelienDEMEUSY/SUI-patreon/internal/database"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/models"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
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
		log.Info().Msg("Database schema up to date")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

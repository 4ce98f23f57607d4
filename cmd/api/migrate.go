package main

import (
	"errors"
	"log"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/chatbase/internal/config"
	db "github.com/markdave123-py/chatbase/internal/core/database"
)

func migrateCMD() *cobra.Command {
	var direction string
	var steps int
	var cfgPath string

	var migrate = &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if cfg.Storage.Driver != "postgres" {
				return errors.New("migrations need storage.driver=postgres")
			}
			if err := db.Migrate(cfg.Storage.Postgres.DatabaseURL, direction, steps); err != nil {
				return err
			}
			log.Printf("migrations applied (%s)", direction)
			return nil
		},
	}
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	migrate.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config or .)")

	return migrate
}

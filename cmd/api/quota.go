package main

import (
	"errors"
	"log"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/chatbase/internal/config"
	db "github.com/markdave123-py/chatbase/internal/core/database"
	"github.com/markdave123-py/chatbase/internal/core/quota"
)

// openStore opens the configured store for maintenance commands.
var openStore = db.New

func quotaCMD() *cobra.Command {
	var cfgPath string
	var quotaCmd = &cobra.Command{
		Use:   "quota",
		Short: "Inspect and reset quota counters",
	}
	quotaCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config or .)")

	var owner string
	var all bool
	var reset = &cobra.Command{
		Use:   "reset",
		Short: "Zero monthly message counters for one owner or everyone",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (owner == "") == !all {
				return errors.New("pass exactly one of --owner or --all")
			}
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			defer store.Close()

			ledger := quota.NewLedger(store, cfg.Quota, nil, nil)
			if all {
				n, err := ledger.ResetAll(cmd.Context())
				if err != nil {
					return err
				}
				log.Printf("reset monthly messages for %d owners", n)
				return nil
			}
			if err := ledger.ResetMonthly(cmd.Context(), owner); err != nil {
				return err
			}
			log.Printf("reset monthly messages for %s", owner)
			return nil
		},
	}
	reset.Flags().StringVar(&owner, "owner", "", "owner id to reset")
	reset.Flags().BoolVar(&all, "all", false, "reset every owner")

	quotaCmd.AddCommand(reset)
	return quotaCmd
}

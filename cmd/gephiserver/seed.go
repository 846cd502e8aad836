package main

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/nunnr/gephiserver/internal/config"
	"github.com/nunnr/gephiserver/internal/store"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Store the demo graph and print its id",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(v, configFile)
		if err != nil {
			return err
		}

		db, err := store.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			return errors.Wrap(err, "open database")
		}
		defer db.Close()

		id, err := store.Seed(cmd.Context(), db)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "stored demo graph %d in %s\n", id, cfg.DBPath)
		return nil
	},
}

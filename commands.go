package main

import (
	"encoding/json"
	"fmt"
	"time"

	"guild-quest-rewards/services"
	"guild-quest-rewards/utils"
	"guild-quest-rewards/workers"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	seedFile  string
	exportDay string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		a.log.Info("✅ schema is up to date")
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Upsert the objective and achievement catalog",
	Long:  "Upsert objectives and achievements by code. Without --file the built-in catalog is used.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		cat, err := services.LoadCatalog(seedFile)
		if err != nil {
			return err
		}
		if err := services.SeedCatalog(cmd.Context(), a.db, cat); err != nil {
			return err
		}
		a.log.WithFields(logrus.Fields{
			"objectives":   len(cat.Objectives),
			"achievements": len(cat.Achievements),
		}).Info("✅ catalog seeded")
		return nil
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one sweep over stale pending claim intents",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		report, err := a.wire().claims.Reconcile(cmd.Context(), a.reconcileOptions())
		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return err
	},
}

var exportCmd = &cobra.Command{
	Use:   "export-audit",
	Short: "Upload one day's confirmed claims to R2",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		if !a.cfg.R2.Enabled() {
			return fmt.Errorf("R2 is not configured")
		}
		day := time.Now().UTC().AddDate(0, 0, -1)
		if exportDay != "" {
			if day, err = time.Parse(time.DateOnly, exportDay); err != nil {
				return fmt.Errorf("invalid --day: %w", err)
			}
		}
		uploader, err := utils.NewR2Uploader(cmd.Context(), a.cfg.R2)
		if err != nil {
			return err
		}
		key, n, err := workers.NewAuditExporter(a.wire().claims, uploader, a.log).Export(cmd.Context(), day)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d intents\n", key, n)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "", "YAML catalog to load instead of the built-in one")
	exportCmd.Flags().StringVar(&exportDay, "day", "", "UTC day to export as YYYY-MM-DD (default: yesterday)")
}

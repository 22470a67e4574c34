// factoryctl runs maintenance jobs against the factory database outside the api server.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"bitbucket.org/mmdatafocus/garment_backend/models"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"github.com/spf13/cobra"
)

const cliUserName = "factoryctl"

var (
	factoryId string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "factoryctl",
	Short: "Maintenance commands for the garment factory backend",
	Long: `factoryctl connects with the same DB_* and storage env vars as the api server.

Factory scoped commands need --factory.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.ConnectDatabaseWithRetry()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run AutoMigrate and sync the permission catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := models.MigrateTable(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild-balances",
	Short: "Recompute every cashbook running balance of the factory",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel, err := factoryContext()
		if err != nil {
			return err
		}
		defer cancel()
		if err := models.RebuildRunningBalances(ctx); err != nil {
			return err
		}
		summary, err := models.GetCashbookSummary(ctx, models.DateRange{})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d entries, closing balance %s\n", summary.EntryCount, summary.ClosingBalance.StringFixed(2))
		return nil
	},
}

// factoryContext scopes a context to --factory after checking the factory exists.
func factoryContext() (context.Context, context.CancelFunc, error) {
	id := strings.TrimSpace(factoryId)
	if id == "" {
		return nil, nil, fmt.Errorf("--factory is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	if _, err := models.GetFactoryById(ctx, id); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("factory %s: %w", id, err)
	}
	ctx = utils.SystemContext(ctx, id, cliUserName)
	ctx = utils.SetCorrelationIdInContext(ctx, cliUserName+"-"+time.Now().UTC().Format("20060102T150405"))
	return ctx, cancel, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&factoryId, "factory", os.Getenv("FACTORY_ID"), "Factory id (or set FACTORY_ID env)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Minute, "Operation timeout")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

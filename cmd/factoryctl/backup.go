package main

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"bitbucket.org/mmdatafocus/garment_backend/models"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"bitbucket.org/mmdatafocus/garment_backend/workflow"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create, list and recover factory backups",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Write a backup to the configured storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel, err := factoryContext()
		if err != nil {
			return err
		}
		defer cancel()
		store, err := utils.NewObjectStore(ctx, config.StorageProvider())
		if err != nil {
			return err
		}
		record, err := workflow.CreateBackup(ctx, store, models.BackupTriggerManual)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "backup %d: %s (%d rows, %d bytes, sha256 %s)\n",
			record.ID, record.ObjectKey, record.RecordCount, record.SizeBytes, record.Checksum)
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the factory's backups, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel, err := factoryContext()
		if err != nil {
			return err
		}
		defer cancel()
		backups, err := models.ListBackups(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCREATED\tTRIGGER\tSTATUS\tROWS\tFILE")
		for _, b := range backups {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n",
				b.ID, b.CreatedAt.Format("2006-01-02 15:04"), b.Trigger, b.Status, b.RecordCount, b.FileName)
		}
		return w.Flush()
	},
}

var backupRecoverCmd = &cobra.Command{
	Use:   "recover <backup-id>",
	Short: "Replace the factory's data with a backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid backup id %q", args[0])
		}
		ctx, cancel, err := factoryContext()
		if err != nil {
			return err
		}
		defer cancel()
		store, err := utils.NewObjectStore(ctx, config.StorageProvider())
		if err != nil {
			return err
		}
		result, err := workflow.RecoverBackup(ctx, store, id)
		if err != nil {
			return err
		}
		printImportResult(cmd, result)
		return nil
	},
}

var backupRunDueCmd = &cobra.Command{
	Use:   "run-due",
	Short: "Run every scheduled backup that is due, for cron style deployments",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		store, err := utils.NewObjectStore(ctx, config.StorageProvider())
		if err != nil {
			return err
		}
		ran, err := workflow.NewBackupScheduler(store, config.GetLogger()).RunDue(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d scheduled backups ran\n", ran)
		return nil
	},
}

func init() {
	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupRecoverCmd)
	backupCmd.AddCommand(backupRunDueCmd)
}

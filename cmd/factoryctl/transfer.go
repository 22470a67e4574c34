package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"bitbucket.org/mmdatafocus/garment_backend/workflow"
	"github.com/spf13/cobra"
)

var (
	exportTables []string
	exportFormat string
	exportOut    string

	importFile   string
	importFormat string
	importMode   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export factory tables as json, xlsx or csv",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel, err := factoryContext()
		if err != nil {
			return err
		}
		defer cancel()
		format, err := utils.ParseExportFormat(exportFormat)
		if err != nil {
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		if exportOut != "" {
			out := exportOut
			if info, err := os.Stat(out); err == nil && info.IsDir() {
				out = filepath.Join(out, workflow.ExportFileName(factoryId, format, time.Now()))
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
			exportOut = out
		}

		summary, err := workflow.ExportDatabase(ctx, exportTables, format, w)
		if err != nil {
			return err
		}
		if exportOut != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "exported %d rows from %d tables to %s\n", summary.Rows, len(summary.Tables), exportOut)
		}
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import an export file in merge or replace mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel, err := factoryContext()
		if err != nil {
			return err
		}
		defer cancel()

		format := importFormat
		if format == "" {
			// guess from the file extension
			switch strings.ToLower(filepath.Ext(importFile)) {
			case ".xlsx":
				format = utils.ExportFormatXLSX
			case ".zip", ".csv":
				format = utils.ExportFormatCSV
			}
		}
		format, err = utils.ParseExportFormat(format)
		if err != nil {
			return err
		}

		f, err := os.Open(importFile)
		if err != nil {
			return err
		}
		defer f.Close()
		result, err := workflow.ImportDatabase(ctx, f, format, importMode)
		if err != nil {
			return err
		}
		printImportResult(cmd, result)
		return nil
	},
}

func printImportResult(cmd *cobra.Command, result *workflow.ImportResult) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "mode %s, %d rows\n", result.Mode, result.Rows)
	fmt.Fprintln(w, "TABLE\tINSERTED\tUPDATED\tDELETED")
	for _, t := range result.Tables {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", t.Table, t.Inserted, t.Updated, t.Deleted)
	}
	_ = w.Flush()
}

func init() {
	exportCmd.Flags().StringSliceVar(&exportTables, "tables", nil, "Tables to export (default: all)")
	exportCmd.Flags().StringVar(&exportFormat, "format", utils.ExportFormatJSON, "json, xlsx or csv")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file or directory (default: stdout)")

	importCmd.Flags().StringVarP(&importFile, "file", "f", "", "File to import")
	importCmd.Flags().StringVar(&importFormat, "format", "", "json, xlsx or csv (default: from the file extension)")
	importCmd.Flags().StringVar(&importMode, "mode", workflow.ImportModeMerge, "merge or replace")
	_ = importCmd.MarkFlagRequired("file")
}

package workflow

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"bitbucket.org/mmdatafocus/garment_backend/models"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"gorm.io/gorm"
)

const (
	ImportModeMerge   = "merge"
	ImportModeReplace = "replace"

	exportVersion   = 1
	transferLockTTL = 10 * time.Minute
)

// ExportDocument is the json export and backup file layout.
type ExportDocument struct {
	Version    int                        `json:"version"`
	FactoryId  string                     `json:"factory_id"`
	ExportedAt time.Time                  `json:"exported_at"`
	Tables     map[string]json.RawMessage `json:"tables"`
}

type TableCount struct {
	Table string `json:"table"`
	Rows  int    `json:"rows"`
}

type ExportSummary struct {
	Format string        `json:"format"`
	Tables []*TableCount `json:"tables"`
	Rows   int           `json:"rows"`
}

type TableImportResult struct {
	Table    string `json:"table"`
	Inserted int    `json:"inserted"`
	Updated  int    `json:"updated"`
	Deleted  int64  `json:"deleted"`
}

type ImportResult struct {
	Mode   string               `json:"mode"`
	Tables []*TableImportResult `json:"tables"`
	Rows   int                  `json:"rows"`
}

func ParseImportMode(mode string) (string, error) {
	switch m := strings.ToLower(strings.TrimSpace(mode)); m {
	case "", ImportModeMerge:
		return ImportModeMerge, nil
	case ImportModeReplace:
		return ImportModeReplace, nil
	}
	return "", utils.NewFieldError("mode", "must be merge or replace")
}

// ExportFileName is the download name for an export in format.
func ExportFileName(factoryId string, format string, at time.Time) string {
	ext := format
	if format == utils.ExportFormatCSV {
		ext = "zip"
	}
	return fmt.Sprintf("export-%s-%s.%s", factoryId, at.UTC().Format("20060102-150405"), ext)
}

func ExportContentType(format string) string {
	if format == utils.ExportFormatCSV {
		return "application/zip"
	}
	return utils.ExportContentType(format)
}

// lockTransfer keeps exports, imports and backups of one factory from interleaving.
func lockTransfer(ctx context.Context, factoryId string, functionName string) (func(), error) {
	return utils.FactoryLock(ctx, factoryId, "DataTransfer", transferLockTTL, "workflow", functionName)
}

func knownPermissionIds(ctx context.Context) (map[int]bool, error) {
	catalog, err := models.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[int]bool, len(catalog))
	for _, p := range catalog {
		known[p.ID] = true
	}
	return known, nil
}

// ExportDatabase writes the selected tables of the caller's factory to w.
func ExportDatabase(ctx context.Context, tableNames []string, format string, w io.Writer) (*ExportSummary, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	format, err = utils.ParseExportFormat(format)
	if err != nil {
		return nil, err
	}
	tables, err := selectTables(transferTables(nil, ""), tableNames)
	if err != nil {
		return nil, err
	}
	release, err := lockTransfer(ctx, factoryId, "ExportDatabase")
	if err != nil {
		return nil, err
	}
	defer release()

	return exportTables(ctx, factoryId, tables, format, w)
}

func exportTables(ctx context.Context, factoryId string, tables []transferTable, format string, w io.Writer) (*ExportSummary, error) {
	// one read transaction gives a consistent snapshot across tables
	db := config.GetDB().WithContext(ctx)
	summary := ExportSummary{Format: format}
	var fetched []tableRows
	err := db.Transaction(func(tx *gorm.DB) error {
		for _, t := range tables {
			rows, err := t.Fetch(tx, factoryId)
			if err != nil {
				return err
			}
			fetched = append(fetched, rows)
			summary.Tables = append(summary.Tables, &TableCount{Table: t.Name(), Rows: rows.Len()})
			summary.Rows += rows.Len()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch format {
	case utils.ExportFormatJSON:
		doc := ExportDocument{
			Version:    exportVersion,
			FactoryId:  factoryId,
			ExportedAt: time.Now().UTC(),
			Tables:     make(map[string]json.RawMessage, len(tables)),
		}
		for i, t := range tables {
			b, err := json.Marshal(fetched[i].JSON())
			if err != nil {
				return nil, err
			}
			doc.Tables[t.Name()] = b
		}
		err = json.NewEncoder(w).Encode(&doc)
	case utils.ExportFormatXLSX, utils.ExportFormatCSV:
		grids := make([]*utils.Table, 0, len(fetched))
		for _, rows := range fetched {
			grids = append(grids, rows.Grid())
		}
		if format == utils.ExportFormatXLSX {
			err = utils.WriteXLSX(w, grids...)
		} else {
			err = utils.WriteCSVZip(w, grids...)
		}
	}
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// CountRecords returns the stored row count of each selected table.
func CountRecords(ctx context.Context, tableNames []string) ([]*TableCount, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	tables, err := selectTables(transferTables(nil, ""), tableNames)
	if err != nil {
		return nil, err
	}
	db := config.GetDB().WithContext(ctx)
	counts := make([]*TableCount, 0, len(tables))
	for _, t := range tables {
		n, err := t.Count(db, factoryId)
		if err != nil {
			return nil, err
		}
		counts = append(counts, &TableCount{Table: t.Name(), Rows: int(n)})
	}
	return counts, nil
}

// checkImportRights keeps custom-role callers away from users, roles and permissions,
// and owners from overwriting admin users.
func checkImportRights(ctx context.Context, factoryId string, decoded []*decodedTable, callerRole models.UserRole) error {
	for _, d := range decoded {
		if d.rows.Len() == 0 || !privilegedTables[d.table.Name()] {
			continue
		}
		if callerRole != models.UserRoleOwner && callerRole != models.UserRoleAdmin {
			return fmt.Errorf("only owners and admins can import %s: %w", d.table.Name(), utils.ErrorForbidden)
		}
		users, ok := d.rows.(*modelRows[models.User])
		if !ok || callerRole == models.UserRoleAdmin {
			continue
		}
		var ids []int
		for _, u := range users.rows {
			if u.ID > 0 {
				ids = append(ids, u.ID)
			}
		}
		if len(ids) == 0 {
			continue
		}
		var admins int64
		err := config.GetDB().WithContext(ctx).Model(&models.User{}).
			Where("factory_id = ? AND role = ? AND id IN ?", factoryId, models.UserRoleAdmin, ids).
			Count(&admins).Error
		if err != nil {
			return err
		}
		if admins > 0 {
			return fmt.Errorf("users: only admins can overwrite admin users: %w", utils.ErrorForbidden)
		}
	}
	return nil
}

type decodedTable struct {
	table transferTable
	rows  tableRows
}

// decodeImport parses the file into rows per table, in import order.
func decodeImport(data []byte, format string, all []transferTable) ([]*decodedTable, error) {
	byName := make(map[string]transferTable, len(all))
	for _, t := range all {
		byName[t.Name()] = t
	}
	found := map[string]tableRows{}
	add := func(name string, decode func(transferTable) (tableRows, error)) error {
		t, ok := byName[name]
		if !ok {
			return utils.NewFieldError("file", "unknown table "+name)
		}
		rows, err := decode(t)
		if err != nil {
			return err
		}
		found[name] = rows
		return nil
	}

	switch format {
	case utils.ExportFormatJSON:
		var doc ExportDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, utils.NewFieldError("file", "invalid json export: "+err.Error())
		}
		for name, raw := range doc.Tables {
			if err := add(name, func(t transferTable) (tableRows, error) { return t.DecodeJSON(raw) }); err != nil {
				return nil, err
			}
		}
	case utils.ExportFormatXLSX:
		grids, err := utils.ReadXLSX(bytes.NewReader(data))
		if err != nil {
			return nil, utils.NewFieldError("file", "invalid xlsx file: "+err.Error())
		}
		for _, grid := range grids {
			if err := add(grid.Name, func(t transferTable) (tableRows, error) { return t.DecodeGrid(grid) }); err != nil {
				return nil, err
			}
		}
	case utils.ExportFormatCSV:
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return nil, utils.NewFieldError("file", "csv imports must be a zip of <table>.csv files")
		}
		for _, f := range zr.File {
			name := strings.TrimSuffix(path.Base(f.Name), ".csv")
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			grid, err := utils.ReadCSV(name, rc)
			rc.Close()
			if err != nil {
				return nil, utils.NewFieldError("file", fmt.Sprintf("invalid csv %s: %v", f.Name, err))
			}
			if err := add(name, func(t transferTable) (tableRows, error) { return t.DecodeGrid(grid) }); err != nil {
				return nil, err
			}
		}
	}

	var decoded []*decodedTable
	for _, t := range all {
		if rows, ok := found[t.Name()]; ok {
			decoded = append(decoded, &decodedTable{table: t, rows: rows})
		}
	}
	if len(decoded) == 0 {
		return nil, utils.NewFieldError("file", "the file contains no known table")
	}
	return decoded, nil
}

// ImportDatabase loads an export into the caller's factory.
// Merge upserts by primary key. Replace clears the imported tables first, children before parents.
func ImportDatabase(ctx context.Context, r io.Reader, format string, mode string) (*ImportResult, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	format, err = utils.ParseExportFormat(format)
	if err != nil {
		return nil, err
	}
	mode, err = ParseImportMode(mode)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	known, err := knownPermissionIds(ctx)
	if err != nil {
		return nil, err
	}
	callerRole := models.UserRole(utils.GetUserRoleFromContext(ctx))
	decoded, err := decodeImport(data, format, transferTables(known, callerRole))
	if err != nil {
		return nil, err
	}
	total := 0
	for _, d := range decoded {
		total += d.rows.Len()
	}
	if limit := config.ImportMaxRows(); limit > 0 && total > limit {
		return nil, utils.NewFieldError("file", fmt.Sprintf("import has %d rows, the limit is %d", total, limit))
	}

	release, err := lockTransfer(ctx, factoryId, "ImportDatabase")
	if err != nil {
		return nil, err
	}
	defer release()
	releaseCashbook, err := models.LockCashbook(ctx, factoryId, "ImportDatabase")
	if err != nil {
		return nil, err
	}
	defer releaseCashbook()
	if err := checkImportRights(ctx, factoryId, decoded, callerRole); err != nil {
		return nil, err
	}

	result := ImportResult{Mode: mode, Rows: total}
	byTable := map[string]*TableImportResult{}
	for _, d := range decoded {
		r := &TableImportResult{Table: d.table.Name()}
		byTable[r.Table] = r
		result.Tables = append(result.Tables, r)
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = func() error {
		if mode == ImportModeReplace {
			for i := len(decoded) - 1; i >= 0; i-- {
				d := decoded[i]
				if d.table.KeepOnReplace() {
					continue
				}
				n, err := d.table.Clear(tx, factoryId)
				if err != nil {
					return err
				}
				byTable[d.table.Name()].Deleted = n
			}
		}
		rebuild := false
		for _, d := range decoded {
			inserted, updated, err := d.rows.Save(tx, factoryId)
			if err != nil {
				return err
			}
			r := byTable[d.table.Name()]
			r.Inserted, r.Updated = inserted, updated
			if err := d.table.SetSequence(tx); err != nil {
				return err
			}
			if d.table.Name() == "cashbook_entries" {
				rebuild = true
			}
		}
		if rebuild {
			if err := models.RebuildRunningBalancesTx(tx, factoryId); err != nil {
				return err
			}
		}
		return models.RecordChange(tx, "database_import", 0, models.EventActionUpdate, &result, nil,
			fmt.Sprintf("imported %d rows (%s)", total, mode))
	}()
	if err != nil {
		tx.Rollback()
		return nil, utils.NormalizeDBError(err)
	}
	if err := utils.NormalizeDBError(tx.Commit().Error); err != nil {
		return nil, err
	}

	if err := models.ClearFactoryCaches(ctx, factoryId); err != nil {
		config.LogError(config.GetLogger(), "workflow", "ImportDatabase", "clearing caches", factoryId, err)
	}
	if err := models.InvalidateReportCache(ctx, factoryId); err != nil {
		config.LogError(config.GetLogger(), "workflow", "ImportDatabase", "clearing report cache", factoryId, err)
	}
	config.LogInfo(config.GetLogger(), "workflow", "ImportDatabase", "database imported", map[string]any{
		"factory_id": factoryId,
		"mode":       mode,
		"rows":       total,
	})
	return &result, nil
}

package utils

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	ExportFormatJSON = "json"
	ExportFormatXLSX = "xlsx"
	ExportFormatCSV  = "csv"
)

// Table is a named grid of cells shared by report and database exports.
type Table struct {
	Name    string
	Headers []string
	Rows    [][]interface{}
}

// Tabular is implemented by every exportable report.
type Tabular interface {
	Tables() []*Table
}

func ParseExportFormat(format string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case "", ExportFormatJSON:
		return ExportFormatJSON, nil
	case ExportFormatXLSX, ExportFormatCSV:
		return f, nil
	}
	return "", NewFieldError("format", "must be json, xlsx or csv")
}

func ExportContentType(format string) string {
	switch format {
	case ExportFormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ExportFormatCSV:
		return "text/csv"
	}
	return "application/json"
}

// sheet names are limited to 31 characters and may not contain []:*?/\
func sheetName(name string, index int) string {
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return '_'
		}
		return r
	}, name)
	if name == "" {
		name = fmt.Sprintf("Sheet%d", index+1)
	}
	if len(name) > 31 {
		name = name[:31]
	}
	return name
}

func xlsxCell(v interface{}) interface{} {
	switch c := v.(type) {
	case decimal.Decimal:
		return c.InexactFloat64()
	case *decimal.Decimal:
		if c == nil {
			return ""
		}
		return c.InexactFloat64()
	case time.Time:
		return c.Format(time.RFC3339)
	case *time.Time:
		if c == nil {
			return ""
		}
		return c.Format(time.RFC3339)
	case *int:
		if c == nil {
			return ""
		}
		return *c
	case *string:
		if c == nil {
			return ""
		}
		return *c
	case *bool:
		if c == nil {
			return ""
		}
		return *c
	}
	return v
}

// CellString renders a cell the way CSV exports write it.
func CellString(v interface{}) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case decimal.Decimal:
		return c.String()
	case *decimal.Decimal:
		if c == nil {
			return ""
		}
		return c.String()
	case time.Time:
		return c.Format(time.RFC3339)
	case *time.Time:
		if c == nil {
			return ""
		}
		return c.Format(time.RFC3339)
	case *int:
		if c == nil {
			return ""
		}
		return fmt.Sprint(*c)
	case *string:
		if c == nil {
			return ""
		}
		return *c
	case *bool:
		if c == nil {
			return ""
		}
		return fmt.Sprint(*c)
	case []byte:
		return string(c)
	}
	return fmt.Sprint(v)
}

// WriteXLSX writes one sheet per table, headers on the first row.
func WriteXLSX(w io.Writer, tables ...*Table) error {
	f := excelize.NewFile()
	defer f.Close()

	for i, table := range tables {
		name := sheetName(table.Name, i)
		if i == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return err
		}

		header := make([]interface{}, len(table.Headers))
		for j, h := range table.Headers {
			header[j] = h
		}
		if err := f.SetSheetRow(name, "A1", &header); err != nil {
			return err
		}
		for r, row := range table.Rows {
			cells := make([]interface{}, len(row))
			for j, v := range row {
				cells[j] = xlsxCell(v)
			}
			cell, err := excelize.CoordinatesToCellName(1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetSheetRow(name, cell, &cells); err != nil {
				return err
			}
		}
	}
	return f.Write(w)
}

// ReadXLSX returns every sheet as a table, taking the first row as headers.
func ReadXLSX(r io.Reader) ([]*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tables []*Table
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, err
		}
		table := Table{Name: name}
		for i, row := range rows {
			if i == 0 {
				table.Headers = row
				continue
			}
			cells := make([]interface{}, len(table.Headers))
			for j := range table.Headers {
				if j < len(row) {
					cells[j] = row[j]
				} else {
					cells[j] = ""
				}
			}
			table.Rows = append(table.Rows, cells)
		}
		tables = append(tables, &table)
	}
	return tables, nil
}

func WriteCSV(w io.Writer, table *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(table.Headers); err != nil {
		return err
	}
	for _, row := range table.Rows {
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = CellString(v)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVZip writes a zip archive holding <table>.csv for each table.
func WriteCSVZip(w io.Writer, tables ...*Table) error {
	zw := zip.NewWriter(w)
	for _, table := range tables {
		fw, err := zw.Create(table.Name + ".csv")
		if err != nil {
			return err
		}
		if err := WriteCSV(fw, table); err != nil {
			return err
		}
	}
	return zw.Close()
}

// ReadCSV parses one table, taking the first record as headers.
func ReadCSV(name string, r io.Reader) (*Table, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, err
	}
	table := Table{Name: name}
	for i, record := range records {
		if i == 0 {
			table.Headers = record
			continue
		}
		row := make([]interface{}, len(record))
		for j, v := range record {
			row[j] = v
		}
		table.Rows = append(table.Rows, row)
	}
	return &table, nil
}

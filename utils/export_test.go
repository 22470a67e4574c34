package utils

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTable() *Table {
	price := decimal.RequireFromString("2.5")
	return &Table{
		Name:    "styles",
		Headers: []string{"id", "style_no", "unit_price"},
		Rows: [][]interface{}{
			{1, "ST-1", price},
			{2, "ST-2, \"quoted\"", decimal.Zero},
			{3, "ST-3", (*decimal.Decimal)(nil)},
		},
	}
}

func TestWriteCSVRowCount(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleTable()))

	parsed, err := ReadCSV("styles", &buf)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "style_no", "unit_price"}, parsed.Headers)
	require.Len(t, parsed.Rows, 3)
	assert.Equal(t, "ST-2, \"quoted\"", parsed.Rows[1][1])
	assert.Equal(t, "2.5", parsed.Rows[0][2])
	assert.Equal(t, "", parsed.Rows[2][2])
}

func TestWriteXLSXOneSheetPerTable(t *testing.T) {
	other := &Table{Name: "lines", Headers: []string{"id", "name"}, Rows: [][]interface{}{{1, "Line 1"}}}
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, sampleTable(), other))

	tables, err := ReadXLSX(&buf)
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "styles", tables[0].Name)
	assert.Len(t, tables[0].Rows, 3)
	assert.Equal(t, "lines", tables[1].Name)
	assert.Len(t, tables[1].Rows, 1)
	assert.Equal(t, "Line 1", tables[1].Rows[0][1])
}

func TestWriteCSVZip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSVZip(&buf, sampleTable()))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "styles.csv", zr.File[0].Name)
}

func TestParseExportFormat(t *testing.T) {
	f, err := ParseExportFormat("")
	require.NoError(t, err)
	assert.Equal(t, ExportFormatJSON, f)
	f, err = ParseExportFormat("XLSX")
	require.NoError(t, err)
	assert.Equal(t, ExportFormatXLSX, f)
	_, err = ParseExportFormat("pdf")
	assert.Error(t, err)
}

func TestSheetName(t *testing.T) {
	assert.Equal(t, "a_b", sheetName("a/b", 0))
	assert.Equal(t, "Sheet3", sheetName("", 2))
	assert.Len(t, sheetName("a_very_long_table_name_that_exceeds_limits", 0), 31)
}

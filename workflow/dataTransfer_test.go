package workflow_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"bitbucket.org/mmdatafocus/garment_backend/dbtest"
	"bitbucket.org/mmdatafocus/garment_backend/models"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"bitbucket.org/mmdatafocus/garment_backend/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedFactory writes a small data set touching the ledger, expenses and production.
func seedFactory(t *testing.T, ctx context.Context) {
	t.Helper()
	line := dbtest.MustLine(t, ctx, "Line A")
	style := dbtest.MustStyle(t, ctx, "ST-100", 5)

	_, err := models.CreateCashbookEntry(ctx, &models.NewCashbookEntry{
		EntryDate: dbtest.Date("2024-03-01"), EntryType: models.EntryTypeCredit, Amount: dbtest.Dec("1000"), Description: "opening cash",
	})
	require.NoError(t, err)
	_, err = models.CreateCashbookEntry(ctx, &models.NewCashbookEntry{
		EntryDate: dbtest.Date("2024-03-03"), EntryType: models.EntryTypeDebit, Amount: dbtest.Dec("250.5"), LineId: &line.ID,
	})
	require.NoError(t, err)

	categories, err := models.ListExpenseCategories(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, categories)
	_, err = models.CreateExpense(ctx, &models.NewExpense{
		ExpenseDate: dbtest.Date("2024-03-02"), CategoryId: categories[0].ID, Amount: dbtest.Dec("100"),
		Description: "needles", PostToCashbook: true,
	})
	require.NoError(t, err)

	_, err = models.CreateCuttingEntry(ctx, &models.NewCuttingEntry{
		EntryDate: dbtest.Date("2024-03-02"), LineId: line.ID, StyleId: style.ID, InputQty: 100, OutputQty: 80,
	})
	require.NoError(t, err)
}

func tableRows(t *testing.T, ctx context.Context) map[string]int {
	t.Helper()
	counts, err := workflow.CountRecords(ctx, nil)
	require.NoError(t, err)
	out := map[string]int{}
	for _, c := range counts {
		out[c.Table] = c.Rows
	}
	return out
}

// closingBalance also checks that the last running balance agrees with the totals.
func closingBalance(t *testing.T, ctx context.Context) string {
	t.Helper()
	summary, err := models.GetCashbookSummary(ctx, models.DateRange{})
	require.NoError(t, err)
	entries, err := models.ListAllCashbookEntries(ctx, &models.CashbookFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	assert.True(t, last.RunningBalance.Equal(summary.ClosingBalance), "running %s closing %s", last.RunningBalance, summary.ClosingBalance)
	return summary.ClosingBalance.StringFixed(2)
}

func TestExportRowCountsMatchRecords(t *testing.T) {
	for _, format := range []string{utils.ExportFormatJSON, utils.ExportFormatXLSX, utils.ExportFormatCSV} {
		t.Run(format, func(t *testing.T) {
			dbtest.Setup(t)
			_, ctx := dbtest.NewFactory(t, "Export "+format)
			seedFactory(t, ctx)
			before := tableRows(t, ctx)

			var buf bytes.Buffer
			summary, err := workflow.ExportDatabase(ctx, nil, format, &buf)
			require.NoError(t, err)
			assert.Equal(t, format, summary.Format)
			total := 0
			for _, c := range summary.Tables {
				assert.Equal(t, before[c.Table], c.Rows, c.Table)
				total += c.Rows
			}
			assert.Equal(t, total, summary.Rows)
			assert.Equal(t, 3, before["cashbook_entries"])
			assert.Equal(t, 1, before["expenses"])

			// replacing with the file just exported leaves every table as it was
			result, err := workflow.ImportDatabase(ctx, bytes.NewReader(buf.Bytes()), format, workflow.ImportModeReplace)
			require.NoError(t, err)
			assert.Equal(t, workflow.ImportModeReplace, result.Mode)
			assert.Equal(t, summary.Rows, result.Rows)
			assert.Equal(t, before, tableRows(t, ctx))
			assert.Equal(t, "649.50", closingBalance(t, ctx))
		})
	}
}

func TestExportSelectedTables(t *testing.T) {
	dbtest.Setup(t)
	_, ctx := dbtest.NewFactory(t, "Selected")
	seedFactory(t, ctx)

	var buf bytes.Buffer
	summary, err := workflow.ExportDatabase(ctx, []string{"cashbook_entries", "lines"}, utils.ExportFormatJSON, &buf)
	require.NoError(t, err)
	require.Len(t, summary.Tables, 2)
	// import order, not request order
	assert.Equal(t, "lines", summary.Tables[0].Table)
	assert.Equal(t, "cashbook_entries", summary.Tables[1].Table)
	assert.Equal(t, 4, summary.Rows)

	_, err = workflow.ExportDatabase(ctx, []string{"invoices"}, utils.ExportFormatJSON, &buf)
	var ve *utils.ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = workflow.ExportDatabase(ctx, nil, "pdf", &buf)
	assert.ErrorAs(t, err, &ve)
}

func TestImportMergeKeepsRowsReplaceDropsThem(t *testing.T) {
	dbtest.Setup(t)
	_, ctx := dbtest.NewFactory(t, "Modes")
	seedFactory(t, ctx)

	var buf bytes.Buffer
	_, err := workflow.ExportDatabase(ctx, nil, utils.ExportFormatJSON, &buf)
	require.NoError(t, err)
	exported := buf.Bytes()

	dbtest.MustLine(t, ctx, "Line B")
	_, err = models.CreateCashbookEntry(ctx, &models.NewCashbookEntry{
		EntryDate: dbtest.Date("2024-02-28"), EntryType: models.EntryTypeCredit, Amount: dbtest.Dec("50"),
	})
	require.NoError(t, err)

	result, err := workflow.ImportDatabase(ctx, bytes.NewReader(exported), utils.ExportFormatJSON, workflow.ImportModeMerge)
	require.NoError(t, err)
	for _, r := range result.Tables {
		assert.Zero(t, r.Deleted, r.Table)
		assert.Zero(t, r.Inserted, r.Table)
	}
	counts := tableRows(t, ctx)
	assert.Equal(t, 2, counts["lines"])
	assert.Equal(t, 4, counts["cashbook_entries"])
	// balances are rebuilt over imported and existing rows
	assert.Equal(t, "699.50", closingBalance(t, ctx))

	result, err = workflow.ImportDatabase(ctx, bytes.NewReader(exported), utils.ExportFormatJSON, workflow.ImportModeReplace)
	require.NoError(t, err)
	counts = tableRows(t, ctx)
	assert.Equal(t, 1, counts["lines"])
	assert.Equal(t, 3, counts["cashbook_entries"])
	assert.Equal(t, "649.50", closingBalance(t, ctx))

	deleted := map[string]int64{}
	for _, r := range result.Tables {
		deleted[r.Table] = r.Deleted
	}
	assert.Equal(t, int64(2), deleted["lines"])
	assert.Equal(t, int64(4), deleted["cashbook_entries"])
}

func TestImportRejectsRowsOfAnotherFactory(t *testing.T) {
	dbtest.Setup(t)
	_, ctxA := dbtest.NewFactory(t, "Factory A")
	_, ctxB := dbtest.NewFactory(t, "Factory B")
	seedFactory(t, ctxA)

	var buf bytes.Buffer
	_, err := workflow.ExportDatabase(ctxA, nil, utils.ExportFormatJSON, &buf)
	require.NoError(t, err)

	before := tableRows(t, ctxB)
	_, err = workflow.ImportDatabase(ctxB, bytes.NewReader(buf.Bytes()), utils.ExportFormatJSON, workflow.ImportModeMerge)
	var ve *utils.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, err.Error(), "belongs to another factory")

	// the failed import rolled back completely
	assert.Equal(t, before, tableRows(t, ctxB))
	assert.Equal(t, 3, tableRows(t, ctxA)["cashbook_entries"])
}

func TestImportRowLimit(t *testing.T) {
	dbtest.Setup(t)
	_, ctx := dbtest.NewFactory(t, "Limits")
	seedFactory(t, ctx)

	var buf bytes.Buffer
	_, err := workflow.ExportDatabase(ctx, nil, utils.ExportFormatJSON, &buf)
	require.NoError(t, err)

	t.Setenv("IMPORT_MAX_ROWS", "2")
	_, err = workflow.ImportDatabase(ctx, bytes.NewReader(buf.Bytes()), utils.ExportFormatJSON, workflow.ImportModeMerge)
	var ve *utils.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, err.Error(), "the limit is 2")
}

func TestImportRejectsBadFiles(t *testing.T) {
	dbtest.Setup(t)
	_, ctx := dbtest.NewFactory(t, "Bad files")

	tests := []struct {
		name   string
		format string
		data   string
		mode   string
	}{
		{"broken json", utils.ExportFormatJSON, "{", workflow.ImportModeMerge},
		{"unknown table", utils.ExportFormatJSON, `{"version":1,"tables":{"invoices":[]}}`, workflow.ImportModeMerge},
		{"no tables", utils.ExportFormatJSON, `{"version":1,"tables":{}}`, workflow.ImportModeMerge},
		{"csv not zipped", utils.ExportFormatCSV, "id,name\n1,Line A\n", workflow.ImportModeMerge},
		{"bad mode", utils.ExportFormatJSON, `{"version":1,"tables":{"lines":[]}}`, "append"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := workflow.ImportDatabase(ctx, bytes.NewReader([]byte(tt.data)), tt.format, tt.mode)
			var ve *utils.ValidationError
			assert.ErrorAs(t, err, &ve)
		})
	}
}

func TestImportGridAcceptsNewRowsWithoutIds(t *testing.T) {
	dbtest.Setup(t)
	_, ctx := dbtest.NewFactory(t, "Grid")

	lines := &utils.Table{
		Name:    "lines",
		Headers: []string{"id", "name", "is_active"},
		Rows: [][]interface{}{
			{"", "Line 1", "true"},
			{"", "Line 2", ""},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, utils.WriteXLSX(&buf, lines))

	result, err := workflow.ImportDatabase(ctx, &buf, utils.ExportFormatXLSX, workflow.ImportModeMerge)
	require.NoError(t, err)
	require.Len(t, result.Tables, 1)
	assert.Equal(t, 2, result.Tables[0].Inserted)

	all, err := models.ListLines(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	names := []string{all[0].Name, all[1].Name}
	assert.ElementsMatch(t, []string{"Line 1", "Line 2"}, names)
}

func userImport(username string, role models.UserRole, id int) []byte {
	return []byte(fmt.Sprintf(`{"version":1,"tables":{"users":[{"id":%d,"username":%q,"name":%q,"password":"x","role":%q}]}}`,
		id, username, username, role))
}

func TestImportGuardsPrivilegedTables(t *testing.T) {
	dbtest.Setup(t)
	factory, _ := dbtest.NewFactory(t, "Privileges")
	base := dbtest.UserContext(factory.ID)
	asRole := func(role models.UserRole) context.Context {
		return utils.SetUserRoleInContext(base, string(role))
	}

	tests := []struct {
		name     string
		role     models.UserRole
		username string
		userRole models.UserRole
		allowed  bool
	}{
		{"custom role imports a clerk", models.UserRoleCustom, "clerk", models.UserRoleCustom, false},
		{"custom role imports an admin", models.UserRoleCustom, "intruder", models.UserRoleAdmin, false},
		{"owner imports an admin", models.UserRoleOwner, "intruder", models.UserRoleAdmin, false},
		{"owner imports a clerk", models.UserRoleOwner, "clerk", models.UserRoleCustom, true},
		{"admin imports an admin", models.UserRoleAdmin, "deputy", models.UserRoleAdmin, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := workflow.ImportDatabase(asRole(tt.role), bytes.NewReader(userImport(tt.username, tt.userRole, 0)),
				utils.ExportFormatJSON, workflow.ImportModeMerge)
			if !tt.allowed {
				assert.ErrorIs(t, err, utils.ErrorForbidden)
				_, err = models.GetUserByUsername(base, tt.username)
				assert.ErrorIs(t, err, utils.ErrorRecordNotFound)
				return
			}
			require.NoError(t, err)
			user, err := models.GetUserByUsername(base, tt.username)
			require.NoError(t, err)
			assert.Equal(t, tt.userRole, user.Role)
		})
	}

	// roles and permissions are owner business too
	_, err := workflow.ImportDatabase(asRole(models.UserRoleCustom),
		bytes.NewReader([]byte(`{"version":1,"tables":{"roles":[{"name":"Boss"}]}}`)), utils.ExportFormatJSON, workflow.ImportModeMerge)
	assert.ErrorIs(t, err, utils.ErrorForbidden)

	// an empty users table carries nothing to guard
	_, err = workflow.ImportDatabase(asRole(models.UserRoleCustom),
		bytes.NewReader([]byte(`{"version":1,"tables":{"users":[],"lines":[{"name":"Line Z"}]}}`)), utils.ExportFormatJSON, workflow.ImportModeMerge)
	assert.NoError(t, err)
}

func TestImportKeepsOwnersOffAdminRows(t *testing.T) {
	dbtest.Setup(t)
	_, ctx := dbtest.NewFactory(t, "Admin rows")
	admin, err := models.CreateUser(ctx, &models.NewUser{Username: "root", Name: "Root", Password: "secret1", Role: models.UserRoleAdmin})
	require.NoError(t, err)

	owner := utils.SetUserRoleInContext(ctx, string(models.UserRoleOwner))
	_, err = workflow.ImportDatabase(owner, bytes.NewReader(userImport("root", models.UserRoleCustom, admin.ID)),
		utils.ExportFormatJSON, workflow.ImportModeMerge)
	assert.ErrorIs(t, err, utils.ErrorForbidden)

	user, err := models.GetUserByUsername(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, models.UserRoleAdmin, user.Role)
}

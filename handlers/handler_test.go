package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/dbtest"
	"bitbucket.org/mmdatafocus/garment_backend/handlers"
	"bitbucket.org/mmdatafocus/garment_backend/middlewares"
	"bitbucket.org/mmdatafocus/garment_backend/models"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"bitbucket.org/mmdatafocus/garment_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool              `json:"success"`
	Data    json.RawMessage   `json:"data"`
	Error   string            `json:"error"`
	Fields  map[string]string `json:"fields"`
}

type apiClient struct {
	t      *testing.T
	router *gin.Engine
	token  string
}

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store, err := utils.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(middlewares.SessionMiddleware())
	r.Use(middlewares.AuthMiddleware())
	r.Use(middlewares.LoaderMiddleware())
	r.Use(middlewares.ErrorLogger(nil))
	handlers.New(store, nil).RegisterRoutes(r)
	r.NoRoute(handlers.NotFound)
	return r
}

// signIn creates a user in the factory of ctx and returns a client holding its bearer token.
func signIn(t *testing.T, router *gin.Engine, ctx context.Context, username string, role models.UserRole, roleId int) *apiClient {
	t.Helper()
	user, err := models.CreateUser(ctx, &models.NewUser{
		Username: username, Name: username, Password: "secret123", Role: role, RoleId: roleId,
	})
	require.NoError(t, err)
	token, err := utils.JwtGenerate(user.ID, user.FactoryId, user.Username, string(user.Role), time.Hour)
	require.NoError(t, err)
	return &apiClient{t: t, router: router, token: token}
}

func (a *apiClient) raw(method string, path string, body interface{}) *httptest.ResponseRecorder {
	a.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *apiClient) do(method string, path string, body interface{}, wantStatus int, out interface{}) envelope {
	a.t.Helper()
	w := a.raw(method, path, body)
	var env envelope
	require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	require.Equal(a.t, wantStatus, w.Code, w.Body.String())
	if out != nil {
		require.NoError(a.t, json.Unmarshal(env.Data, out))
	}
	return env
}

func TestRequestsNeedAUser(t *testing.T) {
	dbtest.Setup(t)
	router := newRouter(t)
	anonymous := &apiClient{t: t, router: router}

	env := anonymous.do(http.MethodGet, "/api/lines", nil, http.StatusUnauthorized, nil)
	assert.False(t, env.Success)
	assert.Equal(t, "access denied", env.Error)

	anonymous.token = "not-a-jwt"
	anonymous.do(http.MethodGet, "/api/lines", nil, http.StatusUnauthorized, nil)

	env = anonymous.do(http.MethodGet, "/api/nowhere", nil, http.StatusNotFound, nil)
	assert.Equal(t, "route not found", env.Error)
}

func TestLoginReturnsSession(t *testing.T) {
	dbtest.Setup(t)
	router := newRouter(t)
	_, ctx := dbtest.NewFactory(t, "Login")
	signIn(t, router, ctx, "owner", models.UserRoleOwner, 0)

	anonymous := &apiClient{t: t, router: router}
	var info models.LoginInfo
	anonymous.do(http.MethodPost, "/api/auth/login", gin.H{"username": "owner", "password": "secret123"}, http.StatusOK, &info)
	assert.NotEmpty(t, info.Token)
	assert.Equal(t, "Owner", info.Role)
	assert.Contains(t, info.Permissions, "backup.recover")

	env := anonymous.do(http.MethodPost, "/api/auth/login", gin.H{"username": "owner", "password": "wrong-one"}, http.StatusUnauthorized, nil)
	assert.Equal(t, models.ErrorInvalidLogin.Error(), env.Error)
}

func TestCashbookRunningBalanceOverHTTP(t *testing.T) {
	dbtest.Setup(t)
	router := newRouter(t)
	_, ctx := dbtest.NewFactory(t, "Ledger")
	owner := signIn(t, router, ctx, "owner", models.UserRoleOwner, 0)
	line := dbtest.MustLine(t, ctx, "Line A")

	entries := []gin.H{
		{"entry_date": "2024-05-03", "entry_type": "debit", "amount": "120.25", "line_id": line.ID},
		{"entry_date": "2024-05-01", "entry_type": "credit", "amount": "1000"},
		{"entry_date": "2024-05-02", "entry_type": "debit", "amount": "80"},
	}
	for _, e := range entries {
		env := owner.do(http.MethodPost, "/api/cashbook", e, http.StatusCreated, nil)
		assert.True(t, env.Success)
	}

	var page struct {
		Items []struct {
			ID             int             `json:"id"`
			EntryType      string          `json:"entry_type"`
			Amount         decimal.Decimal `json:"amount"`
			RunningBalance decimal.Decimal `json:"running_balance"`
			LineName       string          `json:"line_name"`
		} `json:"items"`
	}
	owner.do(http.MethodGet, "/api/cashbook", nil, http.StatusOK, &page)
	require.Len(t, page.Items, 3)

	credits, debits := decimal.Zero, decimal.Zero
	for _, item := range page.Items {
		if item.EntryType == "credit" {
			credits = credits.Add(item.Amount)
		} else {
			debits = debits.Add(item.Amount)
		}
	}
	last := page.Items[len(page.Items)-1]
	assert.True(t, credits.Sub(debits).Equal(last.RunningBalance), last.RunningBalance.String())
	assert.Equal(t, "799.75", last.RunningBalance.StringFixed(2))
	assert.Equal(t, "Line A", last.LineName)

	var summary models.CashbookSummary
	owner.do(http.MethodGet, "/api/cashbook/summary", nil, http.StatusOK, &summary)
	assert.True(t, summary.ClosingBalance.Equal(last.RunningBalance))
	assert.Equal(t, int64(3), summary.EntryCount)

	// a date range only shows the matching days
	owner.do(http.MethodGet, "/api/cashbook?from=2024-05-02&to=2024-05-02", nil, http.StatusOK, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "920.00", page.Items[0].RunningBalance.StringFixed(2))
}

func TestValidationAndMissingRecords(t *testing.T) {
	dbtest.Setup(t)
	router := newRouter(t)
	_, ctx := dbtest.NewFactory(t, "Errors")
	owner := signIn(t, router, ctx, "owner", models.UserRoleOwner, 0)

	env := owner.do(http.MethodPost, "/api/cashbook", gin.H{"entry_date": "2024-05-01", "entry_type": "credit", "amount": "0"},
		http.StatusUnprocessableEntity, nil)
	assert.False(t, env.Success)
	assert.Contains(t, env.Fields, "amount")

	owner.do(http.MethodPost, "/api/cashbook", "{", http.StatusBadRequest, nil)
	owner.do(http.MethodGet, "/api/cashbook/999", nil, http.StatusNotFound, nil)
	owner.do(http.MethodGet, "/api/cashbook/abc", nil, http.StatusBadRequest, nil)
	owner.do(http.MethodGet, "/api/cashbook?from=yesterday", nil, http.StatusUnprocessableEntity, nil)
	owner.do(http.MethodGet, "/api/cutting/balance", nil, http.StatusUnprocessableEntity, nil)
}

func TestCustomRolePermissions(t *testing.T) {
	dbtest.Setup(t)
	router := newRouter(t)
	_, ctx := dbtest.NewFactory(t, "Roles")

	// cashbook.write only
	role, err := models.CreateRole(ctx, &models.NewRole{Name: "Cashier", PermissionIds: []int{2}})
	require.NoError(t, err)
	cashier := signIn(t, router, ctx, "cashier", models.UserRoleCustom, role.ID)

	// write implies read
	cashier.do(http.MethodGet, "/api/cashbook", nil, http.StatusOK, nil)
	cashier.do(http.MethodPost, "/api/cashbook", gin.H{"entry_date": "2024-05-01", "entry_type": "credit", "amount": "10"}, http.StatusCreated, nil)

	env := cashier.do(http.MethodGet, "/api/expenses", nil, http.StatusForbidden, nil)
	assert.Equal(t, utils.ErrorForbidden.Error(), env.Error)
	cashier.do(http.MethodPost, "/api/cashbook/rebuild", nil, http.StatusForbidden, nil)
	cashier.do(http.MethodGet, "/api/admin/factories", nil, http.StatusForbidden, nil)

	// reference lists need no permission
	cashier.do(http.MethodGet, "/api/lines", nil, http.StatusOK, nil)
}

func TestCategorySelectionTouchesOneCategory(t *testing.T) {
	dbtest.Setup(t)
	router := newRouter(t)
	_, ctx := dbtest.NewFactory(t, "Categories")
	owner := signIn(t, router, ctx, "owner", models.UserRoleOwner, 0)

	var role models.RoleDetail
	owner.do(http.MethodPost, "/api/admin/roles", gin.H{"name": "Clerk", "permission_ids": []int{10, 1}}, http.StatusCreated, &role)
	assert.Equal(t, []int{1, 10}, role.PermissionIds)

	path := fmt.Sprintf("/api/admin/roles/%d/permissions/category", role.ID)
	owner.do(http.MethodPut, path, gin.H{"category": "Cashbook", "selected": true}, http.StatusOK, &role)
	assert.Equal(t, []int{1, 2, 3, 10}, role.PermissionIds)

	owner.do(http.MethodPut, path, gin.H{"category": "Cashbook", "selected": false}, http.StatusOK, &role)
	assert.Equal(t, []int{10}, role.PermissionIds)

	// selected is required, false included
	owner.do(http.MethodPut, path, gin.H{"category": "Cashbook"}, http.StatusBadRequest, nil)

	var catalog []models.PermissionCategory
	owner.do(http.MethodGet, "/api/admin/permissions", nil, http.StatusOK, &catalog)
	assert.NotEmpty(t, catalog)
}

func TestReportDownloads(t *testing.T) {
	dbtest.Setup(t)
	router := newRouter(t)
	_, ctx := dbtest.NewFactory(t, "Reports")
	owner := signIn(t, router, ctx, "owner", models.UserRoleOwner, 0)
	owner.do(http.MethodPost, "/api/cashbook", gin.H{"entry_date": "2024-05-01", "entry_type": "credit", "amount": "500"}, http.StatusCreated, nil)

	w := owner.raw(http.MethodGet, "/api/reports/cashbook-summary?format=csv", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "cashbook-summary.csv")
	assert.Contains(t, w.Body.String(), "Closing balance")

	w = owner.raw(http.MethodGet, "/api/reports/profit-and-loss?format=xlsx", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, utils.ExportContentType(utils.ExportFormatXLSX), w.Header().Get("Content-Type"))
	// xlsx files are zip archives
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")))

	owner.do(http.MethodGet, "/api/reports/profit-and-loss?group_by=week", nil, http.StatusUnprocessableEntity, nil)
	owner.do(http.MethodGet, "/api/reports/payroll?format=pdf", nil, http.StatusUnprocessableEntity, nil)
	owner.do(http.MethodGet, "/api/reports/production", nil, http.StatusOK, nil)
}

func TestDatabaseExportMatchesRecordCounts(t *testing.T) {
	dbtest.Setup(t)
	router := newRouter(t)
	_, ctx := dbtest.NewFactory(t, "Export")
	owner := signIn(t, router, ctx, "owner", models.UserRoleOwner, 0)
	line := dbtest.MustLine(t, ctx, "Line A")
	dbtest.MustStyle(t, ctx, "ST-1", 4)
	for _, amount := range []string{"100", "40"} {
		owner.do(http.MethodPost, "/api/cashbook", gin.H{"entry_date": "2024-05-01", "entry_type": "credit", "amount": amount, "line_id": line.ID}, http.StatusCreated, nil)
	}

	var counts []workflow.TableCount
	owner.do(http.MethodGet, "/api/database/tables", nil, http.StatusOK, &counts)
	require.NotEmpty(t, counts)

	w := owner.raw(http.MethodGet, "/api/database/export?format=json", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "export-")
	var doc struct {
		Tables map[string][]json.RawMessage `json:"tables"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	total := 0
	for _, c := range counts {
		assert.Len(t, doc.Tables[c.Table], c.Rows, c.Table)
		total += c.Rows
	}
	assert.Equal(t, fmt.Sprint(total), w.Header().Get("X-Export-Rows"))
	assert.Len(t, doc.Tables["cashbook_entries"], 2)

	w = owner.raw(http.MethodGet, "/api/database/export?format=json&tables=lines", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-Export-Rows"))

	owner.do(http.MethodGet, "/api/database/export?tables=invoices", nil, http.StatusUnprocessableEntity, nil)
}

func TestBackupOverHTTP(t *testing.T) {
	dbtest.Setup(t)
	router := newRouter(t)
	_, ctx := dbtest.NewFactory(t, "Backup")
	owner := signIn(t, router, ctx, "owner", models.UserRoleOwner, 0)
	dbtest.MustLine(t, ctx, "Line A")

	var record models.BackupRecord
	owner.do(http.MethodPost, "/api/backup", nil, http.StatusCreated, &record)
	assert.Equal(t, models.BackupStatusCompleted, record.Status)

	w := owner.raw(http.MethodGet, fmt.Sprintf("/api/backup/%d/download", record.ID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, record.Checksum, w.Header().Get("X-Checksum-Sha256"))
	assert.Equal(t, int(record.SizeBytes), w.Body.Len())

	var result workflow.ImportResult
	owner.do(http.MethodPost, "/api/backup/recover", gin.H{"backup_id": record.ID}, http.StatusOK, &result)
	assert.Equal(t, workflow.ImportModeReplace, result.Mode)

	owner.do(http.MethodPost, "/api/backup/recover", gin.H{"backup_id": 999}, http.StatusNotFound, nil)

	var schedule models.BackupSchedule
	owner.do(http.MethodPut, "/api/backup/schedule", gin.H{
		"enabled": true, "frequency": "weekly", "time_of_day": "03:30", "weekday": 1, "retention_count": 4,
	}, http.StatusOK, &schedule)
	assert.True(t, schedule.IsEnabled())
	assert.NotNil(t, schedule.NextRunAt)

	owner.do(http.MethodDelete, fmt.Sprintf("/api/backup/%d", record.ID), nil, http.StatusOK, nil)
	var backups []models.BackupRecord
	owner.do(http.MethodGet, "/api/backup", nil, http.StatusOK, &backups)
	assert.Empty(t, backups)
}

func TestProductionEndpoints(t *testing.T) {
	dbtest.Setup(t)
	router := newRouter(t)
	_, ctx := dbtest.NewFactory(t, "Production")
	owner := signIn(t, router, ctx, "owner", models.UserRoleOwner, 0)
	line := dbtest.MustLine(t, ctx, "Line A")
	style := dbtest.MustStyle(t, ctx, "ST-7", 3)

	owner.do(http.MethodPost, "/api/cutting", gin.H{
		"entry_date": "2024-05-01", "line_id": line.ID, "style_id": style.ID, "input_qty": 50, "output_qty": 20,
	}, http.StatusCreated, nil)

	var balance struct {
		Wip int `json:"wip"`
	}
	owner.do(http.MethodGet, fmt.Sprintf("/api/cutting/balance?line_id=%d&style_id=%d", line.ID, style.ID), nil, http.StatusOK, &balance)
	assert.Equal(t, 30, balance.Wip)

	var target struct {
		AchievedQty int    `json:"achieved_qty"`
		StyleNo     string `json:"style_no"`
	}
	var created models.Target
	owner.do(http.MethodPost, "/api/target", gin.H{
		"target_date": "2024-05-01", "line_id": line.ID, "style_id": style.ID, "target_qty": 40,
	}, http.StatusCreated, &created)
	owner.do(http.MethodGet, fmt.Sprintf("/api/target/%d", created.ID), nil, http.StatusOK, &target)
	assert.Equal(t, 20, target.AchievedQty)
	assert.Equal(t, "ST-7", target.StyleNo)

	var shipment models.Shipment
	owner.do(http.MethodPost, "/api/shipments", gin.H{
		"shipment_date": "2024-05-02", "invoice_no": "INV-1", "style_id": style.ID, "quantity": 10,
	}, http.StatusCreated, &shipment)
	assert.Equal(t, "30.00", shipment.TotalAmount.StringFixed(2))
	owner.do(http.MethodPut, fmt.Sprintf("/api/shipments/%d/status", shipment.ID), gin.H{"status": "shipped"}, http.StatusOK, &shipment)
	assert.Equal(t, models.ShipmentStatus("shipped"), shipment.Status)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{utils.NewValidationError("bad"), http.StatusUnprocessableEntity},
		{utils.ErrorRecordNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", utils.ErrorRecordNotFound), http.StatusNotFound},
		{utils.ErrorDuplicate, http.StatusConflict},
		{utils.ErrorBusy, http.StatusConflict},
		{workflow.ErrorChecksumMismatch, http.StatusUnprocessableEntity},
		{utils.ErrorForbidden, http.StatusForbidden},
		{models.ErrorInvalidLogin, http.StatusUnauthorized},
		{utils.ErrorFactoryIdEmpty, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, handlers.ErrorStatus(tt.err), tt.err.Error())
	}
}

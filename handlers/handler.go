// Package handlers exposes the factory operations as a JSON REST api under /api.
package handlers

import (
	"net/http"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"bitbucket.org/mmdatafocus/garment_backend/middlewares"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	Store  utils.ObjectStore
	Logger *logrus.Logger
}

func New(store utils.ObjectStore, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &Handler{Store: store, Logger: logger}
}

var perm = middlewares.RequirePermission

// RegisterRoutes mounts every /api route on r.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api")
	api.POST("/auth/login", h.login)

	auth := api.Group("", middlewares.RequireUser())
	auth.POST("/auth/logout", h.logout)
	auth.POST("/auth/token", h.issueToken)
	auth.GET("/auth/me", h.me)
	auth.PUT("/auth/password", h.changePassword)

	auth.GET("/factory", h.getFactory)
	auth.PUT("/factory", perm("factory.write"), h.updateFactory)

	auth.GET("/lines", h.listLines)
	auth.POST("/lines", perm("lines.write"), h.createLine)
	auth.GET("/lines/:id", h.getLine)
	auth.PUT("/lines/:id", perm("lines.write"), h.updateLine)
	auth.PUT("/lines/:id/active", perm("lines.write"), h.toggleLine)
	auth.DELETE("/lines/:id", perm("lines.write"), h.deleteLine)

	auth.GET("/styles", h.listStyles)
	auth.POST("/styles", perm("styles.write"), h.createStyle)
	auth.GET("/styles/:id", h.getStyle)
	auth.PUT("/styles/:id", perm("styles.write"), h.updateStyle)
	auth.PUT("/styles/:id/active", perm("styles.write"), h.toggleStyle)
	auth.DELETE("/styles/:id", perm("styles.write"), h.deleteStyle)

	auth.GET("/cashbook", perm("cashbook.read"), h.listCashbook)
	auth.POST("/cashbook", perm("cashbook.write"), h.createCashbook)
	auth.GET("/cashbook/summary", perm("cashbook.read"), h.cashbookSummary)
	auth.POST("/cashbook/rebuild", perm("cashbook.rebuild"), h.rebuildCashbook)
	auth.GET("/cashbook/:id", perm("cashbook.read"), h.getCashbook)
	auth.PUT("/cashbook/:id", perm("cashbook.write"), h.updateCashbook)
	auth.DELETE("/cashbook/:id", perm("cashbook.write"), h.deleteCashbook)

	auth.GET("/expense-categories", perm("expenses.read"), h.listExpenseCategories)
	auth.POST("/expense-categories", perm("expense_categories.write"), h.createExpenseCategory)
	auth.PUT("/expense-categories/:id", perm("expense_categories.write"), h.updateExpenseCategory)
	auth.PUT("/expense-categories/:id/active", perm("expense_categories.write"), h.toggleExpenseCategory)
	auth.DELETE("/expense-categories/:id", perm("expense_categories.write"), h.deleteExpenseCategory)

	auth.GET("/expenses", perm("expenses.read"), h.listExpenses)
	auth.POST("/expenses", perm("expenses.write"), h.createExpense)
	auth.GET("/expenses/:id", perm("expenses.read"), h.getExpense)
	auth.PUT("/expenses/:id", perm("expenses.write"), h.updateExpense)
	auth.DELETE("/expenses/:id", perm("expenses.write"), h.deleteExpense)
	auth.POST("/expenses/:id/receipt", perm("expenses.write"), h.uploadReceipt)

	auth.GET("/cutting", perm("cutting.read"), h.listCutting)
	auth.POST("/cutting", perm("cutting.write"), h.createCutting)
	auth.GET("/cutting/balance", perm("cutting.read"), h.cuttingBalance)
	auth.GET("/cutting/:id", perm("cutting.read"), h.getCutting)
	auth.PUT("/cutting/:id", perm("cutting.write"), h.updateCutting)
	auth.DELETE("/cutting/:id", perm("cutting.write"), h.deleteCutting)

	auth.GET("/shipments", perm("shipments.read"), h.listShipments)
	auth.POST("/shipments", perm("shipments.write"), h.createShipment)
	auth.GET("/shipments/:id", perm("shipments.read"), h.getShipment)
	auth.PUT("/shipments/:id", perm("shipments.write"), h.updateShipment)
	auth.PUT("/shipments/:id/status", perm("shipments.status"), h.updateShipmentStatus)
	auth.DELETE("/shipments/:id", perm("shipments.write"), h.deleteShipment)

	auth.GET("/target", perm("targets.read"), h.listTargets)
	auth.POST("/target", perm("targets.write"), h.createTarget)
	auth.GET("/target/:id", perm("targets.read"), h.getTarget)
	auth.PUT("/target/:id", perm("targets.write"), h.updateTarget)
	auth.DELETE("/target/:id", perm("targets.write"), h.deleteTarget)

	auth.GET("/piecework", perm("piecework.read"), h.listPiecework)
	auth.POST("/piecework", perm("piecework.write"), h.createPiecework)
	auth.PUT("/piecework/:id", perm("piecework.write"), h.updatePiecework)
	auth.DELETE("/piecework/:id", perm("piecework.write"), h.deletePiecework)

	auth.GET("/history/:type/:id", h.listHistory)

	admin := auth.Group("/admin")
	admin.GET("/permissions", perm("roles.read"), h.listPermissions)
	admin.GET("/roles", perm("roles.read"), h.listRoles)
	admin.POST("/roles", perm("roles.write"), h.createRole)
	admin.GET("/roles/:id", perm("roles.read"), h.getRole)
	admin.PUT("/roles/:id", perm("roles.write"), h.updateRole)
	admin.PUT("/roles/:id/permissions/category", perm("roles.write"), h.setCategoryPermissions)
	admin.DELETE("/roles/:id", perm("roles.write"), h.deleteRole)

	admin.GET("/salary-rates", perm("salary_rates.read"), h.listSalaryRates)
	admin.POST("/salary-rates", perm("salary_rates.write"), h.createSalaryRate)
	admin.GET("/salary-rates/effective", perm("salary_rates.read"), h.effectiveSalaryRate)
	admin.GET("/salary-rates/:id", perm("salary_rates.read"), h.getSalaryRate)
	admin.PUT("/salary-rates/:id", perm("salary_rates.write"), h.updateSalaryRate)
	admin.DELETE("/salary-rates/:id", perm("salary_rates.write"), h.deleteSalaryRate)

	admin.GET("/users", perm("users.read"), h.listUsers)
	admin.POST("/users", perm("users.write"), h.createUser)
	admin.GET("/users/:id", perm("users.read"), h.getUser)
	admin.PUT("/users/:id", perm("users.write"), h.updateUser)
	admin.DELETE("/users/:id", perm("users.write"), h.deleteUser)

	admin.GET("/events", perm("events.read"), h.outboxSummary)
	admin.POST("/events/requeue", perm("events.read"), h.requeueDeadEvents)

	platform := admin.Group("/factories", middlewares.RequireAdmin())
	platform.GET("", h.listFactories)
	platform.POST("", h.createFactory)

	reports := auth.Group("/reports")
	reports.GET("/profit-and-loss", perm("reports.profit_and_loss"), h.profitAndLoss)
	reports.GET("/production", perm("reports.production"), h.productionReport)
	reports.GET("/payroll", perm("reports.payroll"), h.payrollReport)
	reports.GET("/expense-summary", perm("reports.expense_summary"), h.expenseSummary)
	reports.GET("/cashbook-summary", perm("reports.cashbook_summary"), h.cashbookSummaryReport)

	auth.GET("/database/tables", perm("database.export"), h.countTables)
	auth.GET("/database/export", perm("database.export"), h.exportDatabase)
	auth.POST("/database/import", perm("database.import"), h.importDatabase)

	auth.GET("/backup", perm("backup.read"), h.listBackups)
	auth.POST("/backup", perm("backup.write"), h.createBackup)
	auth.GET("/backup/schedule", perm("backup.read"), h.getBackupSchedule)
	auth.PUT("/backup/schedule", perm("backup.write"), h.updateBackupSchedule)
	auth.POST("/backup/recover", perm("backup.recover"), h.recoverBackup)
	auth.GET("/backup/:id", perm("backup.read"), h.getBackup)
	auth.GET("/backup/:id/download", perm("backup.read"), h.downloadBackup)
	auth.DELETE("/backup/:id", perm("backup.write"), h.deleteBackup)
}

// NotFound answers unknown routes with the envelope.
func NotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, Response{Error: "route not found"})
}

package handlers

import (
	"bitbucket.org/mmdatafocus/garment_backend/models/reports"
	"github.com/gin-gonic/gin"
)

func (h *Handler) profitAndLoss(c *gin.Context) {
	dr, err := dateRange(c)
	if err != nil {
		fail(c, err)
		return
	}
	groupBy, err := reports.ParseGroupBy(c.Query("group_by"))
	if err != nil {
		fail(c, err)
		return
	}
	report, err := reports.GetProfitAndLoss(c.Request.Context(), dr, groupBy)
	if err != nil {
		fail(c, err)
		return
	}
	respondTabular(c, "profit-and-loss", report)
}

func (h *Handler) productionReport(c *gin.Context) {
	dr, lineId, styleId, err := lineStyleFilter(c)
	if err != nil {
		fail(c, err)
		return
	}
	report, err := reports.GetProductionReport(c.Request.Context(), dr, lineId, styleId)
	if err != nil {
		fail(c, err)
		return
	}
	respondTabular(c, "production", report)
}

func (h *Handler) payrollReport(c *gin.Context) {
	dr, lineId, _, err := lineStyleFilter(c)
	if err != nil {
		fail(c, err)
		return
	}
	report, err := reports.GetPayrollReport(c.Request.Context(), dr, lineId)
	if err != nil {
		fail(c, err)
		return
	}
	respondTabular(c, "payroll", report)
}

func (h *Handler) expenseSummary(c *gin.Context) {
	dr, err := dateRange(c)
	if err != nil {
		fail(c, err)
		return
	}
	report, err := reports.GetExpenseSummaryByCategory(c.Request.Context(), dr)
	if err != nil {
		fail(c, err)
		return
	}
	respondTabular(c, "expense-summary", report)
}

func (h *Handler) cashbookSummaryReport(c *gin.Context) {
	dr, err := dateRange(c)
	if err != nil {
		fail(c, err)
		return
	}
	report, err := reports.GetCashbookSummaryReport(c.Request.Context(), dr)
	if err != nil {
		fail(c, err)
		return
	}
	respondTabular(c, "cashbook-summary", report)
}

package handlers

import (
	"context"
	"net/http"

	"bitbucket.org/mmdatafocus/garment_backend/middlewares"
	"bitbucket.org/mmdatafocus/garment_backend/models"
	"github.com/gin-gonic/gin"
)

type expenseView struct {
	*models.Expense
	CategoryName string `json:"category_name"`
	LineName     string `json:"line_name"`
}

func expenseViews(ctx context.Context, expenses []*models.Expense) []*expenseView {
	categoryIds := make([]int, len(expenses))
	lineIds := make([]*int, len(expenses))
	for i, e := range expenses {
		categoryIds[i] = e.CategoryId
		lineIds[i] = e.LineId
	}
	categories, errs := middlewares.GetExpenseCategories(ctx, categoryIds)
	names := lineNames(ctx, lineIds)
	views := make([]*expenseView, len(expenses))
	for i, e := range expenses {
		views[i] = &expenseView{Expense: e, LineName: names[i]}
		if (len(errs) <= i || errs[i] == nil) && categories[i] != nil {
			views[i].CategoryName = categories[i].Name
		}
	}
	return views
}

func (h *Handler) listExpenses(c *gin.Context) {
	dr, err := dateRange(c)
	if err != nil {
		fail(c, err)
		return
	}
	categoryId, err := queryInt(c, "category_id")
	if err != nil {
		fail(c, err)
		return
	}
	lineId, err := queryInt(c, "line_id")
	if err != nil {
		fail(c, err)
		return
	}
	limit, after := pageParams(c)
	page, err := models.ListExpenses(c.Request.Context(), &models.ExpenseFilter{
		DateRange:  dr,
		CategoryId: categoryId,
		LineId:     lineId,
	}, limit, after)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{
		"items":     expenseViews(c.Request.Context(), page.Items),
		"page_info": page.PageInfo,
	})
}

func (h *Handler) getExpense(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	expense, err := models.GetExpense(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, expenseViews(c.Request.Context(), []*models.Expense{expense})[0])
}

func (h *Handler) createExpense(c *gin.Context) {
	var input models.NewExpense
	if !bindJSON(c, &input) {
		return
	}
	expense, err := models.CreateExpense(c.Request.Context(), &input)
	if err != nil {
		fail(c, err)
		return
	}
	created(c, expense)
}

func (h *Handler) updateExpense(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	var input models.NewExpense
	if !bindJSON(c, &input) {
		return
	}
	expense, err := models.UpdateExpense(c.Request.Context(), id, &input)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, expense)
}

func (h *Handler) deleteExpense(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	expense, err := models.DeleteExpense(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, expense)
}

// uploadReceipt takes a multipart "file" field.
func (h *Handler) uploadReceipt(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	if h.Store == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, Response{Error: "storage is not configured"})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, models.MaxReceiptBytes+1<<20)
	fileHeader, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "file is required")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	defer file.Close()

	result, err := models.UploadExpenseReceipt(c.Request.Context(), h.Store, id,
		fileHeader.Filename, fileHeader.Header.Get("Content-Type"), file)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, result)
}

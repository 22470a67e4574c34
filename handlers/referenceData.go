package handlers

import (
	"bitbucket.org/mmdatafocus/garment_backend/models"
	"github.com/gin-gonic/gin"
)

type toggleActiveRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

func toggleActive[T models.RedisCleaner](c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	var req toggleActiveRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := models.ToggleActiveModel[T](c.Request.Context(), id, *req.IsActive)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, result)
}

/* lines */

func (h *Handler) listLines(c *gin.Context) {
	lines, err := models.ListLines(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, lines)
}

func (h *Handler) getLine(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	line, err := models.GetLine(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, line)
}

func (h *Handler) createLine(c *gin.Context) {
	var input models.NewLine
	if !bindJSON(c, &input) {
		return
	}
	line, err := models.CreateLine(c.Request.Context(), &input)
	if err != nil {
		fail(c, err)
		return
	}
	created(c, line)
}

func (h *Handler) updateLine(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	var input models.NewLine
	if !bindJSON(c, &input) {
		return
	}
	line, err := models.UpdateLine(c.Request.Context(), id, &input)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, line)
}

func (h *Handler) toggleLine(c *gin.Context) { toggleActive[models.Line](c) }

func (h *Handler) deleteLine(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	line, err := models.DeleteLine(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, line)
}

/* styles */

func (h *Handler) listStyles(c *gin.Context) {
	styles, err := models.ListStyles(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, styles)
}

func (h *Handler) getStyle(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	style, err := models.GetStyle(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, style)
}

func (h *Handler) createStyle(c *gin.Context) {
	var input models.NewStyle
	if !bindJSON(c, &input) {
		return
	}
	style, err := models.CreateStyle(c.Request.Context(), &input)
	if err != nil {
		fail(c, err)
		return
	}
	created(c, style)
}

func (h *Handler) updateStyle(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	var input models.NewStyle
	if !bindJSON(c, &input) {
		return
	}
	style, err := models.UpdateStyle(c.Request.Context(), id, &input)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, style)
}

func (h *Handler) toggleStyle(c *gin.Context) { toggleActive[models.Style](c) }

func (h *Handler) deleteStyle(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	style, err := models.DeleteStyle(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, style)
}

/* expense categories */

func (h *Handler) listExpenseCategories(c *gin.Context) {
	categories, err := models.ListExpenseCategories(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, categories)
}

func (h *Handler) createExpenseCategory(c *gin.Context) {
	var input models.NewExpenseCategory
	if !bindJSON(c, &input) {
		return
	}
	category, err := models.CreateExpenseCategory(c.Request.Context(), &input)
	if err != nil {
		fail(c, err)
		return
	}
	created(c, category)
}

func (h *Handler) updateExpenseCategory(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	var input models.NewExpenseCategory
	if !bindJSON(c, &input) {
		return
	}
	category, err := models.UpdateExpenseCategory(c.Request.Context(), id, &input)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, category)
}

func (h *Handler) toggleExpenseCategory(c *gin.Context) { toggleActive[models.ExpenseCategory](c) }

func (h *Handler) deleteExpenseCategory(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	category, err := models.DeleteExpenseCategory(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, category)
}

func (h *Handler) listHistory(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	rows, err := models.ListHistory(c.Request.Context(), c.Param("type"), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, rows)
}

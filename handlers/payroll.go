package handlers

import (
	"context"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/models"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"github.com/gin-gonic/gin"
)

/* salary rates */

type salaryRateView struct {
	*models.SalaryRate
	StyleNo string `json:"style_no"`
}

func salaryRateViews(ctx context.Context, rates []*models.SalaryRate) []*salaryRateView {
	styleIds := make([]int, len(rates))
	for i, r := range rates {
		styleIds[i] = r.StyleId
	}
	_, styleNos := lineStyleNames(ctx, nil, styleIds)
	views := make([]*salaryRateView, len(rates))
	for i, r := range rates {
		views[i] = &salaryRateView{SalaryRate: r, StyleNo: styleNos[i]}
	}
	return views
}

func (h *Handler) listSalaryRates(c *gin.Context) {
	styleId, err := queryInt(c, "style_id")
	if err != nil {
		fail(c, err)
		return
	}
	isActive, err := queryBool(c, "is_active")
	if err != nil {
		fail(c, err)
		return
	}
	rates, err := models.ListSalaryRates(c.Request.Context(), &models.SalaryRateFilter{
		StyleId:   styleId,
		Operation: strings.TrimSpace(c.Query("operation")),
		IsActive:  isActive,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, salaryRateViews(c.Request.Context(), rates))
}

func (h *Handler) getSalaryRate(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	rate, err := models.GetSalaryRate(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, salaryRateViews(c.Request.Context(), []*models.SalaryRate{rate})[0])
}

// effectiveSalaryRate answers ?style_id=&operation=&date= with the rate in force that day.
func (h *Handler) effectiveSalaryRate(c *gin.Context) {
	styleId, err := queryInt(c, "style_id")
	if err != nil {
		fail(c, err)
		return
	}
	operation := strings.TrimSpace(c.Query("operation"))
	if styleId == nil || operation == "" {
		fail(c, utils.NewValidationError("style_id and operation are required"))
		return
	}
	day, err := queryDate(c, "date")
	if err != nil {
		fail(c, err)
		return
	}
	date := time.Now().UTC()
	if day != nil {
		date = day.Time()
	}
	rate, err := models.GetEffectiveRate(c.Request.Context(), *styleId, operation, date)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, rate)
}

func (h *Handler) createSalaryRate(c *gin.Context) {
	var input models.NewSalaryRate
	if !bindJSON(c, &input) {
		return
	}
	rate, err := models.CreateSalaryRate(c.Request.Context(), &input)
	if err != nil {
		fail(c, err)
		return
	}
	created(c, rate)
}

func (h *Handler) updateSalaryRate(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	var input models.NewSalaryRate
	if !bindJSON(c, &input) {
		return
	}
	rate, err := models.UpdateSalaryRate(c.Request.Context(), id, &input)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, rate)
}

func (h *Handler) deleteSalaryRate(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	rate, err := models.DeleteSalaryRate(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, rate)
}

/* piecework */

type pieceworkView struct {
	*models.PieceworkEntry
	LineName string `json:"line_name"`
	StyleNo  string `json:"style_no"`
}

func (h *Handler) listPiecework(c *gin.Context) {
	dr, lineId, styleId, err := lineStyleFilter(c)
	if err != nil {
		fail(c, err)
		return
	}
	limit, after := pageParams(c)
	page, err := models.ListPieceworkEntries(c.Request.Context(), &models.PieceworkFilter{
		DateRange:  dr,
		WorkerName: strings.TrimSpace(c.Query("worker")),
		LineId:     lineId,
		StyleId:    styleId,
	}, limit, after)
	if err != nil {
		fail(c, err)
		return
	}

	lineIds := make([]int, len(page.Items))
	styleIds := make([]int, len(page.Items))
	for i, e := range page.Items {
		lineIds[i] = e.LineId
		styleIds[i] = e.StyleId
	}
	lineNames, styleNos := lineStyleNames(c.Request.Context(), lineIds, styleIds)
	views := make([]*pieceworkView, len(page.Items))
	for i, e := range page.Items {
		views[i] = &pieceworkView{PieceworkEntry: e, LineName: lineNames[i], StyleNo: styleNos[i]}
	}
	ok(c, gin.H{"items": views, "page_info": page.PageInfo})
}

func (h *Handler) createPiecework(c *gin.Context) {
	var input models.NewPieceworkEntry
	if !bindJSON(c, &input) {
		return
	}
	entry, err := models.CreatePieceworkEntry(c.Request.Context(), &input)
	if err != nil {
		fail(c, err)
		return
	}
	created(c, entry)
}

func (h *Handler) updatePiecework(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	var input models.NewPieceworkEntry
	if !bindJSON(c, &input) {
		return
	}
	entry, err := models.UpdatePieceworkEntry(c.Request.Context(), id, &input)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, entry)
}

func (h *Handler) deletePiecework(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	entry, err := models.DeletePieceworkEntry(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, entry)
}

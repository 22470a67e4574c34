package handlers

import (
	"context"
	"strings"

	"bitbucket.org/mmdatafocus/garment_backend/middlewares"
	"bitbucket.org/mmdatafocus/garment_backend/models"
	"github.com/gin-gonic/gin"
)

type cashbookEntryView struct {
	*models.CashbookEntry
	LineName string `json:"line_name"`
}

func lineNames(ctx context.Context, ids []*int) []string {
	names := make([]string, len(ids))
	keys := make([]int, len(ids))
	for i, id := range ids {
		if id != nil {
			keys[i] = *id
		}
	}
	lines, errs := middlewares.GetLines(ctx, keys)
	for i := range ids {
		if ids[i] == nil || (len(errs) > i && errs[i] != nil) || lines[i] == nil {
			continue
		}
		names[i] = lines[i].Name
	}
	return names
}

func cashbookViews(ctx context.Context, entries []*models.CashbookEntry) []*cashbookEntryView {
	ids := make([]*int, len(entries))
	for i, e := range entries {
		ids[i] = e.LineId
	}
	names := lineNames(ctx, ids)
	views := make([]*cashbookEntryView, len(entries))
	for i, e := range entries {
		views[i] = &cashbookEntryView{CashbookEntry: e, LineName: names[i]}
	}
	return views
}

func cashbookFilter(c *gin.Context) (*models.CashbookFilter, error) {
	dr, err := dateRange(c)
	if err != nil {
		return nil, err
	}
	lineId, err := queryInt(c, "line_id")
	if err != nil {
		return nil, err
	}
	return &models.CashbookFilter{
		DateRange: dr,
		EntryType: models.EntryType(strings.ToLower(c.Query("type"))),
		Category:  c.Query("category"),
		LineId:    lineId,
	}, nil
}

func (h *Handler) listCashbook(c *gin.Context) {
	filter, err := cashbookFilter(c)
	if err != nil {
		fail(c, err)
		return
	}
	limit, after := pageParams(c)
	page, err := models.ListCashbookEntries(c.Request.Context(), filter, limit, after)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{
		"items":     cashbookViews(c.Request.Context(), page.Items),
		"page_info": page.PageInfo,
	})
}

func (h *Handler) getCashbook(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	entry, err := models.GetCashbookEntry(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, cashbookViews(c.Request.Context(), []*models.CashbookEntry{entry})[0])
}

func (h *Handler) createCashbook(c *gin.Context) {
	var input models.NewCashbookEntry
	if !bindJSON(c, &input) {
		return
	}
	entry, err := models.CreateCashbookEntry(c.Request.Context(), &input)
	if err != nil {
		fail(c, err)
		return
	}
	created(c, entry)
}

func (h *Handler) updateCashbook(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	var input models.NewCashbookEntry
	if !bindJSON(c, &input) {
		return
	}
	entry, err := models.UpdateCashbookEntry(c.Request.Context(), id, &input)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, entry)
}

func (h *Handler) deleteCashbook(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	entry, err := models.DeleteCashbookEntry(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, entry)
}

func (h *Handler) cashbookSummary(c *gin.Context) {
	dr, err := dateRange(c)
	if err != nil {
		fail(c, err)
		return
	}
	summary, err := models.GetCashbookSummary(c.Request.Context(), dr)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, summary)
}

func (h *Handler) rebuildCashbook(c *gin.Context) {
	if err := models.RebuildRunningBalances(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	summary, err := models.GetCashbookSummary(c.Request.Context(), models.DateRange{})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, summary)
}

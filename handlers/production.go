package handlers

import (
	"context"
	"strings"

	"bitbucket.org/mmdatafocus/garment_backend/middlewares"
	"bitbucket.org/mmdatafocus/garment_backend/models"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"github.com/gin-gonic/gin"
)

// lineStyleNames resolves names for parallel line and style id slices through the request loaders.
func lineStyleNames(ctx context.Context, lineIds []int, styleIds []int) ([]string, []string) {
	lineNames := make([]string, len(lineIds))
	styleNos := make([]string, len(styleIds))
	if len(lineIds) > 0 {
		lines, errs := middlewares.GetLines(ctx, lineIds)
		for i := range lineIds {
			if (len(errs) <= i || errs[i] == nil) && lines[i] != nil {
				lineNames[i] = lines[i].Name
			}
		}
	}
	if len(styleIds) > 0 {
		styles, errs := middlewares.GetStyles(ctx, styleIds)
		for i := range styleIds {
			if (len(errs) <= i || errs[i] == nil) && styles[i] != nil {
				styleNos[i] = styles[i].StyleNo
			}
		}
	}
	return lineNames, styleNos
}

func lineStyleFilter(c *gin.Context) (models.DateRange, *int, *int, error) {
	dr, err := dateRange(c)
	if err != nil {
		return dr, nil, nil, err
	}
	lineId, err := queryInt(c, "line_id")
	if err != nil {
		return dr, nil, nil, err
	}
	styleId, err := queryInt(c, "style_id")
	if err != nil {
		return dr, nil, nil, err
	}
	return dr, lineId, styleId, nil
}

/* cutting */

type cuttingView struct {
	*models.CuttingEntry
	LineName string `json:"line_name"`
	StyleNo  string `json:"style_no"`
}

func cuttingViews(ctx context.Context, entries []*models.CuttingEntry) []*cuttingView {
	lineIds := make([]int, len(entries))
	styleIds := make([]int, len(entries))
	for i, e := range entries {
		lineIds[i] = e.LineId
		styleIds[i] = e.StyleId
	}
	lineNames, styleNos := lineStyleNames(ctx, lineIds, styleIds)
	views := make([]*cuttingView, len(entries))
	for i, e := range entries {
		views[i] = &cuttingView{CuttingEntry: e, LineName: lineNames[i], StyleNo: styleNos[i]}
	}
	return views
}

func (h *Handler) listCutting(c *gin.Context) {
	dr, lineId, styleId, err := lineStyleFilter(c)
	if err != nil {
		fail(c, err)
		return
	}
	limit, after := pageParams(c)
	page, err := models.ListCuttingEntries(c.Request.Context(), &models.CuttingFilter{
		DateRange: dr, LineId: lineId, StyleId: styleId,
	}, limit, after)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{
		"items":     cuttingViews(c.Request.Context(), page.Items),
		"page_info": page.PageInfo,
	})
}

func (h *Handler) getCutting(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	entry, err := models.GetCuttingEntry(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, cuttingViews(c.Request.Context(), []*models.CuttingEntry{entry})[0])
}

func (h *Handler) createCutting(c *gin.Context) {
	var input models.NewCuttingEntry
	if !bindJSON(c, &input) {
		return
	}
	entry, err := models.CreateCuttingEntry(c.Request.Context(), &input)
	if err != nil {
		fail(c, err)
		return
	}
	created(c, entry)
}

func (h *Handler) updateCutting(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	var input models.NewCuttingEntry
	if !bindJSON(c, &input) {
		return
	}
	entry, err := models.UpdateCuttingEntry(c.Request.Context(), id, &input)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, entry)
}

func (h *Handler) deleteCutting(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	entry, err := models.DeleteCuttingEntry(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, entry)
}

// cuttingBalance answers ?line_id=&style_id= with cumulative input, output and wip.
func (h *Handler) cuttingBalance(c *gin.Context) {
	_, lineId, styleId, err := lineStyleFilter(c)
	if err != nil {
		fail(c, err)
		return
	}
	if lineId == nil || styleId == nil {
		fail(c, utils.NewValidationError("line_id and style_id are required"))
		return
	}
	balance, err := models.GetCuttingBalance(c.Request.Context(), *lineId, *styleId)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{
		"line_id":    balance.LineId,
		"style_id":   balance.StyleId,
		"input_qty":  balance.InputQty,
		"output_qty": balance.OutputQty,
		"wip":        balance.Wip(),
	})
}

/* shipments */

type shipmentStatusRequest struct {
	Status models.ShipmentStatus `json:"status" binding:"required"`
}

type shipmentView struct {
	*models.Shipment
	StyleNo string `json:"style_no"`
}

func shipmentViews(ctx context.Context, shipments []*models.Shipment) []*shipmentView {
	styleIds := make([]int, len(shipments))
	for i, s := range shipments {
		styleIds[i] = s.StyleId
	}
	_, styleNos := lineStyleNames(ctx, nil, styleIds)
	views := make([]*shipmentView, len(shipments))
	for i, s := range shipments {
		views[i] = &shipmentView{Shipment: s, StyleNo: styleNos[i]}
	}
	return views
}

func (h *Handler) listShipments(c *gin.Context) {
	dr, _, styleId, err := lineStyleFilter(c)
	if err != nil {
		fail(c, err)
		return
	}
	limit, after := pageParams(c)
	page, err := models.ListShipments(c.Request.Context(), &models.ShipmentFilter{
		DateRange: dr,
		Status:    models.ShipmentStatus(strings.ToLower(c.Query("status"))),
		StyleId:   styleId,
	}, limit, after)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{
		"items":     shipmentViews(c.Request.Context(), page.Items),
		"page_info": page.PageInfo,
	})
}

func (h *Handler) getShipment(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	shipment, err := models.GetShipment(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, shipmentViews(c.Request.Context(), []*models.Shipment{shipment})[0])
}

func (h *Handler) createShipment(c *gin.Context) {
	var input models.NewShipment
	if !bindJSON(c, &input) {
		return
	}
	shipment, err := models.CreateShipment(c.Request.Context(), &input)
	if err != nil {
		fail(c, err)
		return
	}
	created(c, shipment)
}

func (h *Handler) updateShipment(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	var input models.NewShipment
	if !bindJSON(c, &input) {
		return
	}
	shipment, err := models.UpdateShipment(c.Request.Context(), id, &input)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, shipment)
}

func (h *Handler) updateShipmentStatus(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	var req shipmentStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	shipment, err := models.UpdateShipmentStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, shipment)
}

func (h *Handler) deleteShipment(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	shipment, err := models.DeleteShipment(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, shipment)
}

/* targets */

type targetView struct {
	*models.TargetAchievement
	LineName string `json:"line_name"`
	StyleNo  string `json:"style_no"`
}

func targetViews(ctx context.Context, targets []*models.TargetAchievement) []*targetView {
	lineIds := make([]int, len(targets))
	styleIds := make([]int, len(targets))
	for i, t := range targets {
		lineIds[i] = t.LineId
		styleIds[i] = t.StyleId
	}
	lineNames, styleNos := lineStyleNames(ctx, lineIds, styleIds)
	views := make([]*targetView, len(targets))
	for i, t := range targets {
		views[i] = &targetView{TargetAchievement: t, LineName: lineNames[i], StyleNo: styleNos[i]}
	}
	return views
}

func (h *Handler) listTargets(c *gin.Context) {
	dr, lineId, styleId, err := lineStyleFilter(c)
	if err != nil {
		fail(c, err)
		return
	}
	targets, err := models.ListTargets(c.Request.Context(), &models.TargetFilter{
		DateRange: dr, LineId: lineId, StyleId: styleId,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, targetViews(c.Request.Context(), targets))
}

func (h *Handler) getTarget(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	target, err := models.GetTarget(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, targetViews(c.Request.Context(), []*models.TargetAchievement{target})[0])
}

func (h *Handler) createTarget(c *gin.Context) {
	var input models.NewTarget
	if !bindJSON(c, &input) {
		return
	}
	target, err := models.CreateTarget(c.Request.Context(), &input)
	if err != nil {
		fail(c, err)
		return
	}
	created(c, target)
}

func (h *Handler) updateTarget(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	var input models.NewTarget
	if !bindJSON(c, &input) {
		return
	}
	target, err := models.UpdateTarget(c.Request.Context(), id, &input)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, target)
}

func (h *Handler) deleteTarget(c *gin.Context) {
	id, valid := paramId(c)
	if !valid {
		return
	}
	target, err := models.DeleteTarget(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, target)
}

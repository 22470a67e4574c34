package reports

import (
	"context"
	"fmt"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/models"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"github.com/shopspring/decimal"
)

type ProductionRow struct {
	LineId             int             `json:"line_id"`
	LineName           string          `json:"line_name"`
	StyleId            int             `json:"style_id"`
	StyleNo            string          `json:"style_no"`
	InputQty           int             `json:"input_qty"`
	OutputQty          int             `json:"output_qty"`
	Wip                int             `json:"wip"`
	TargetQty          int             `json:"target_qty"`
	AchievedQty        int             `json:"achieved_qty"`
	AchievementPercent decimal.Decimal `json:"achievement_percent"`
}

type ProductionReport struct {
	From   string           `json:"from"`
	To     string           `json:"to"`
	Rows   []*ProductionRow `json:"rows"`
	Totals ProductionRow    `json:"totals"`
}

type productionKey struct {
	LineId  int
	StyleId int
}

// BuildProduction merges cutting movements and targets per line and style.
func BuildProduction(entries []*models.CuttingEntry, targets []*models.TargetAchievement) *ProductionReport {
	rows := map[productionKey]*ProductionRow{}
	row := func(lineId, styleId int) *ProductionRow {
		key := productionKey{lineId, styleId}
		r, ok := rows[key]
		if !ok {
			r = &ProductionRow{LineId: lineId, StyleId: styleId}
			rows[key] = r
		}
		return r
	}
	for _, e := range entries {
		r := row(e.LineId, e.StyleId)
		r.InputQty += e.InputQty
		r.OutputQty += e.OutputQty
	}
	for _, t := range targets {
		r := row(t.LineId, t.StyleId)
		r.TargetQty += t.TargetQty
		r.AchievedQty += t.AchievedQty
	}

	report := ProductionReport{Rows: make([]*ProductionRow, 0, len(rows))}
	for _, r := range rows {
		r.Wip = r.InputQty - r.OutputQty
		r.AchievementPercent = models.AchievementPercent(r.AchievedQty, r.TargetQty)
		report.Rows = append(report.Rows, r)

		report.Totals.InputQty += r.InputQty
		report.Totals.OutputQty += r.OutputQty
		report.Totals.TargetQty += r.TargetQty
		report.Totals.AchievedQty += r.AchievedQty
	}
	sort.Slice(report.Rows, func(i, j int) bool {
		if report.Rows[i].LineId != report.Rows[j].LineId {
			return report.Rows[i].LineId < report.Rows[j].LineId
		}
		return report.Rows[i].StyleId < report.Rows[j].StyleId
	})
	report.Totals.Wip = report.Totals.InputQty - report.Totals.OutputQty
	report.Totals.AchievementPercent = models.AchievementPercent(report.Totals.AchievedQty, report.Totals.TargetQty)
	return &report
}

func GetProductionReport(ctx context.Context, dateRange models.DateRange, lineId *int, styleId *int) (*ProductionReport, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	key := reportCacheKey(factoryId, "Production", dateText(dateRange.From), dateText(dateRange.To), lineId, styleId)
	return cachedReport(key, func() (*ProductionReport, error) {
		ctx, span := startSpan(ctx, "Production", factoryId)
		started := time.Now()
		report, err := buildProductionReport(ctx, dateRange, lineId, styleId)
		endSpan(span, err)
		logSlowReport(ctx, "GetProductionReport", started, map[string]any{"line_id": lineId, "style_id": styleId})
		return report, err
	})
}

func buildProductionReport(ctx context.Context, dateRange models.DateRange, lineId *int, styleId *int) (*ProductionReport, error) {
	entries, err := models.ListAllCuttingEntries(ctx, &models.CuttingFilter{DateRange: dateRange, LineId: lineId, StyleId: styleId})
	if err != nil {
		return nil, err
	}
	targets, err := models.ListTargets(ctx, &models.TargetFilter{DateRange: dateRange, LineId: lineId, StyleId: styleId})
	if err != nil {
		return nil, err
	}
	report := BuildProduction(entries, targets)
	report.From = dateText(dateRange.From)
	report.To = dateText(dateRange.To)

	lines, err := lineNames(ctx)
	if err != nil {
		return nil, err
	}
	styles, err := styleNumbers(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range report.Rows {
		r.LineName = lines[r.LineId]
		r.StyleNo = styles[r.StyleId]
	}
	return report, nil
}

func (r *ProductionReport) Tables() []*utils.Table {
	table := utils.Table{
		Name:    "Production",
		Headers: []string{"Line", "Style", "Input", "Output", "WIP", "Target", "Achieved", "Achievement %"},
	}
	for _, row := range r.Rows {
		line := row.LineName
		if line == "" {
			line = fmt.Sprint(row.LineId)
		}
		table.Rows = append(table.Rows, []interface{}{
			line, row.StyleNo, row.InputQty, row.OutputQty, row.Wip, row.TargetQty, row.AchievedQty, row.AchievementPercent,
		})
	}
	return []*utils.Table{&table}
}

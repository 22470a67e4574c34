package reports

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/models"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"github.com/shopspring/decimal"
)

const (
	GroupByMonth = "month"
	GroupByLine  = "line"

	// unassignedKey collects line-grouped amounts that carry no line.
	unassignedKey = "unassigned"
)

type ProfitAndLossRow struct {
	Key           string          `json:"key"`
	Label         string          `json:"label"`
	Revenue       decimal.Decimal `json:"revenue"`
	Expenses      decimal.Decimal `json:"expenses"`
	Labour        decimal.Decimal `json:"labour"`
	NetProfit     decimal.Decimal `json:"net_profit"`
	MarginPercent decimal.Decimal `json:"margin_percent"`
}

type ProfitAndLossReport struct {
	From               string                  `json:"from"`
	To                 string                  `json:"to"`
	GroupBy            string                  `json:"group_by"`
	Rows               []*ProfitAndLossRow     `json:"rows"`
	ExpensesByCategory []*ExpenseCategoryTotal `json:"expenses_by_category"`
	Totals             ProfitAndLossRow        `json:"totals"`
}

// ProfitAndLossInput is everything the P&L is computed from.
type ProfitAndLossInput struct {
	Shipments []*models.Shipment
	Expenses  []*models.Expense
	Payroll   []*PayrollEntryRow
	// cutting output splits line-grouped revenue across lines
	Cutting []*models.CuttingEntry
}

// MarginPercent is net / revenue × 100 rounded to 2 places, 0 without revenue.
func MarginPercent(net decimal.Decimal, revenue decimal.Decimal) decimal.Decimal {
	if revenue.IsZero() {
		return decimal.Zero
	}
	return net.Mul(decimal.NewFromInt(100)).DivRound(revenue, 2)
}

func ParseGroupBy(groupBy string) (string, error) {
	switch g := strings.ToLower(strings.TrimSpace(groupBy)); g {
	case "", GroupByMonth:
		return GroupByMonth, nil
	case GroupByLine:
		return GroupByLine, nil
	}
	return "", utils.NewFieldError("group_by", "must be month or line")
}

func monthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

func lineKey(lineId *int) string {
	if lineId == nil || *lineId == 0 {
		return unassignedKey
	}
	return fmt.Sprint(*lineId)
}

type pnlBuilder struct {
	rows map[string]*ProfitAndLossRow
}

func (b *pnlBuilder) row(key string) *ProfitAndLossRow {
	r, ok := b.rows[key]
	if !ok {
		r = &ProfitAndLossRow{Key: key, Label: key, Revenue: decimal.Zero, Expenses: decimal.Zero, Labour: decimal.Zero}
		b.rows[key] = r
	}
	return r
}

// revenueByLine spreads each style's revenue over lines by their share of its cutting output.
// Revenue of a style without output stays unassigned. Rounding remainders go to the line with most output.
func revenueByLine(shipments []*models.Shipment, cutting []*models.CuttingEntry) map[string]decimal.Decimal {
	revenueByStyle := map[int]decimal.Decimal{}
	var styleOrder []int
	for _, s := range shipments {
		if !s.Status.IsRevenue() {
			continue
		}
		if _, ok := revenueByStyle[s.StyleId]; !ok {
			styleOrder = append(styleOrder, s.StyleId)
			revenueByStyle[s.StyleId] = decimal.Zero
		}
		revenueByStyle[s.StyleId] = revenueByStyle[s.StyleId].Add(s.TotalAmount)
	}
	outputs := map[int]map[int]int{}
	for _, c := range cutting {
		if c.OutputQty == 0 {
			continue
		}
		if outputs[c.StyleId] == nil {
			outputs[c.StyleId] = map[int]int{}
		}
		outputs[c.StyleId][c.LineId] += c.OutputQty
	}

	result := map[string]decimal.Decimal{}
	add := func(key string, amount decimal.Decimal) {
		result[key] = result[key].Add(amount)
	}
	for _, styleId := range styleOrder {
		revenue := revenueByStyle[styleId]
		perLine := outputs[styleId]
		total := 0
		lineIds := make([]int, 0, len(perLine))
		for lineId, qty := range perLine {
			total += qty
			lineIds = append(lineIds, lineId)
		}
		if total == 0 {
			add(unassignedKey, revenue)
			continue
		}
		sort.Slice(lineIds, func(i, j int) bool {
			if perLine[lineIds[i]] != perLine[lineIds[j]] {
				return perLine[lineIds[i]] > perLine[lineIds[j]]
			}
			return lineIds[i] < lineIds[j]
		})
		allocated := decimal.Zero
		for _, lineId := range lineIds[1:] {
			share := revenue.Mul(decimal.NewFromInt(int64(perLine[lineId]))).DivRound(decimal.NewFromInt(int64(total)), 4)
			allocated = allocated.Add(share)
			add(fmt.Sprint(lineId), share)
		}
		add(fmt.Sprint(lineIds[0]), revenue.Sub(allocated))
	}
	return result
}

// BuildProfitAndLoss aggregates revenue, expenses and labour into rows keyed by month or line.
func BuildProfitAndLoss(groupBy string, in ProfitAndLossInput) *ProfitAndLossReport {
	b := pnlBuilder{rows: map[string]*ProfitAndLossRow{}}

	if groupBy == GroupByLine {
		for key, amount := range revenueByLine(in.Shipments, in.Cutting) {
			r := b.row(key)
			r.Revenue = r.Revenue.Add(amount)
		}
	} else {
		for _, s := range in.Shipments {
			if !s.Status.IsRevenue() {
				continue
			}
			r := b.row(monthKey(s.ShipmentDate))
			r.Revenue = r.Revenue.Add(s.TotalAmount)
		}
	}

	for _, e := range in.Expenses {
		key := monthKey(e.ExpenseDate)
		if groupBy == GroupByLine {
			key = lineKey(e.LineId)
		}
		r := b.row(key)
		r.Expenses = r.Expenses.Add(e.Amount)
	}
	for _, p := range in.Payroll {
		key := monthKey(p.WorkDate)
		if groupBy == GroupByLine {
			key = lineKey(&p.LineId)
		}
		r := b.row(key)
		r.Labour = r.Labour.Add(p.Amount)
	}

	report := ProfitAndLossReport{
		GroupBy: groupBy,
		Rows:    make([]*ProfitAndLossRow, 0, len(b.rows)),
		Totals: ProfitAndLossRow{
			Key: "total", Label: "Total",
			Revenue: decimal.Zero, Expenses: decimal.Zero, Labour: decimal.Zero,
		},
	}
	for _, r := range b.rows {
		r.NetProfit = r.Revenue.Sub(r.Expenses).Sub(r.Labour)
		r.MarginPercent = MarginPercent(r.NetProfit, r.Revenue)
		report.Rows = append(report.Rows, r)

		report.Totals.Revenue = report.Totals.Revenue.Add(r.Revenue)
		report.Totals.Expenses = report.Totals.Expenses.Add(r.Expenses)
		report.Totals.Labour = report.Totals.Labour.Add(r.Labour)
	}
	report.Totals.NetProfit = report.Totals.Revenue.Sub(report.Totals.Expenses).Sub(report.Totals.Labour)
	report.Totals.MarginPercent = MarginPercent(report.Totals.NetProfit, report.Totals.Revenue)

	sort.Slice(report.Rows, func(i, j int) bool {
		a, c := report.Rows[i].Key, report.Rows[j].Key
		// unassigned sorts last, line ids numerically
		if a == unassignedKey || c == unassignedKey {
			return c == unassignedKey && a != unassignedKey
		}
		if groupBy == GroupByLine && len(a) != len(c) {
			return len(a) < len(c)
		}
		return a < c
	})
	return &report
}

func GetProfitAndLoss(ctx context.Context, dateRange models.DateRange, groupBy string) (*ProfitAndLossReport, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	groupBy, err = ParseGroupBy(groupBy)
	if err != nil {
		return nil, err
	}
	key := reportCacheKey(factoryId, "ProfitAndLoss", dateText(dateRange.From), dateText(dateRange.To), groupBy)
	return cachedReport(key, func() (*ProfitAndLossReport, error) {
		ctx, span := startSpan(ctx, "ProfitAndLoss", factoryId)
		started := time.Now()
		report, err := buildProfitAndLossReport(ctx, factoryId, dateRange, groupBy)
		endSpan(span, err)
		logSlowReport(ctx, "GetProfitAndLoss", started, map[string]any{"group_by": groupBy})
		return report, err
	})
}

func buildProfitAndLossReport(ctx context.Context, factoryId string, dateRange models.DateRange, groupBy string) (*ProfitAndLossReport, error) {
	var in ProfitAndLossInput
	var err error
	if in.Shipments, err = models.ListAllShipments(ctx, &models.ShipmentFilter{DateRange: dateRange}); err != nil {
		return nil, err
	}
	if in.Expenses, err = models.ListAllExpenses(ctx, &models.ExpenseFilter{DateRange: dateRange}); err != nil {
		return nil, err
	}
	payroll, err := buildPayrollReport(ctx, dateRange, nil)
	if err != nil {
		return nil, err
	}
	in.Payroll = payroll.Entries
	if groupBy == GroupByLine {
		if in.Cutting, err = models.ListAllCuttingEntries(ctx, &models.CuttingFilter{DateRange: dateRange}); err != nil {
			return nil, err
		}
	}

	report := BuildProfitAndLoss(groupBy, in)
	report.From = dateText(dateRange.From)
	report.To = dateText(dateRange.To)
	if report.ExpensesByCategory, err = expenseTotalsByCategory(ctx, factoryId, dateRange, nil); err != nil {
		return nil, err
	}

	if groupBy == GroupByLine {
		lines, err := lineNames(ctx)
		if err != nil {
			return nil, err
		}
		for _, r := range report.Rows {
			if r.Key == unassignedKey {
				r.Label = "Unassigned"
				continue
			}
			if id, err := strconv.Atoi(r.Key); err == nil && lines[id] != "" {
				r.Label = lines[id]
			}
		}
	}
	return report, nil
}

func (r *ProfitAndLossReport) Tables() []*utils.Table {
	groupHeader := "Month"
	if r.GroupBy == GroupByLine {
		groupHeader = "Line"
	}
	rows := utils.Table{
		Name:    "Profit and loss",
		Headers: []string{groupHeader, "Revenue", "Expenses", "Labour", "Net profit", "Margin %"},
	}
	for _, row := range r.Rows {
		rows.Rows = append(rows.Rows, []interface{}{row.Label, row.Revenue, row.Expenses, row.Labour, row.NetProfit, row.MarginPercent})
	}
	categories := utils.Table{
		Name:    "Expenses by category",
		Headers: []string{"Category", "Expenses", "Amount"},
	}
	for _, c := range r.ExpensesByCategory {
		categories.Rows = append(categories.Rows, []interface{}{c.CategoryName, c.ExpenseCount, c.Amount})
	}
	return []*utils.Table{&rows, &categories}
}

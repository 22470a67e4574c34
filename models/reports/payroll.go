package reports

import (
	"context"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/models"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"github.com/shopspring/decimal"
)

type PayrollEntryRow struct {
	EntryId      int              `json:"entry_id"`
	WorkDate     time.Time        `json:"work_date"`
	WorkerName   string           `json:"worker_name"`
	LineId       int              `json:"line_id"`
	LineName     string           `json:"line_name"`
	StyleId      int              `json:"style_id"`
	StyleNo      string           `json:"style_no"`
	Operation    string           `json:"operation"`
	Quantity     int              `json:"quantity"`
	RatePerPiece *decimal.Decimal `json:"rate_per_piece"`
	Amount       decimal.Decimal  `json:"amount"`
}

type PayrollWorkerRow struct {
	WorkerName string          `json:"worker_name"`
	EntryCount int             `json:"entry_count"`
	Quantity   int             `json:"quantity"`
	Amount     decimal.Decimal `json:"amount"`
}

type PayrollReport struct {
	From          string              `json:"from"`
	To            string              `json:"to"`
	Workers       []*PayrollWorkerRow `json:"workers"`
	Entries       []*PayrollEntryRow  `json:"entries"`
	Unpriced      []*PayrollEntryRow  `json:"unpriced"`
	TotalQuantity int                 `json:"total_quantity"`
	TotalAmount   decimal.Decimal     `json:"total_amount"`
}

// BuildPayroll prices every entry with the rate effective on its work date.
// Entries without a rate are listed as unpriced and count as zero.
func BuildPayroll(entries []*models.PieceworkEntry, rates []*models.SalaryRate) *PayrollReport {
	report := PayrollReport{
		Workers:     make([]*PayrollWorkerRow, 0),
		Entries:     make([]*PayrollEntryRow, 0, len(entries)),
		Unpriced:    make([]*PayrollEntryRow, 0),
		TotalAmount: decimal.Zero,
	}
	workers := map[string]*PayrollWorkerRow{}

	for _, e := range entries {
		row := PayrollEntryRow{
			EntryId:    e.ID,
			WorkDate:   e.WorkDate,
			WorkerName: e.WorkerName,
			LineId:     e.LineId,
			StyleId:    e.StyleId,
			Operation:  e.Operation,
			Quantity:   e.Quantity,
			Amount:     decimal.Zero,
		}
		if rate := models.PickEffectiveRate(rates, e.StyleId, e.Operation, e.WorkDate); rate != nil {
			price := rate.RatePerPiece
			row.RatePerPiece = &price
			row.Amount = price.Mul(decimal.NewFromInt(int64(e.Quantity)))
		} else {
			report.Unpriced = append(report.Unpriced, &row)
		}
		report.Entries = append(report.Entries, &row)

		w, ok := workers[e.WorkerName]
		if !ok {
			w = &PayrollWorkerRow{WorkerName: e.WorkerName, Amount: decimal.Zero}
			workers[e.WorkerName] = w
			report.Workers = append(report.Workers, w)
		}
		w.EntryCount++
		w.Quantity += e.Quantity
		w.Amount = w.Amount.Add(row.Amount)

		report.TotalQuantity += e.Quantity
		report.TotalAmount = report.TotalAmount.Add(row.Amount)
	}
	sort.Slice(report.Workers, func(i, j int) bool {
		return report.Workers[i].WorkerName < report.Workers[j].WorkerName
	})
	return &report
}

func GetPayrollReport(ctx context.Context, dateRange models.DateRange, lineId *int) (*PayrollReport, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	ctx, span := startSpan(ctx, "Payroll", factoryId)
	started := time.Now()
	report, err := buildPayrollReport(ctx, dateRange, lineId)
	endSpan(span, err)
	logSlowReport(ctx, "GetPayrollReport", started, nil)
	return report, err
}

func buildPayrollReport(ctx context.Context, dateRange models.DateRange, lineId *int) (*PayrollReport, error) {
	entries, err := models.ListAllPieceworkEntries(ctx, &models.PieceworkFilter{DateRange: dateRange, LineId: lineId})
	if err != nil {
		return nil, err
	}
	rates, err := models.ListSalaryRates(ctx, nil)
	if err != nil {
		return nil, err
	}
	report := BuildPayroll(entries, rates)
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
	for _, row := range report.Entries {
		row.LineName = lines[row.LineId]
		row.StyleNo = styles[row.StyleId]
	}
	return report, nil
}

func (r *PayrollReport) Tables() []*utils.Table {
	workers := utils.Table{
		Name:    "Payroll by worker",
		Headers: []string{"Worker", "Entries", "Quantity", "Amount"},
	}
	for _, w := range r.Workers {
		workers.Rows = append(workers.Rows, []interface{}{w.WorkerName, w.EntryCount, w.Quantity, w.Amount})
	}
	entries := utils.Table{
		Name:    "Piecework entries",
		Headers: []string{"Date", "Worker", "Line", "Style", "Operation", "Quantity", "Rate", "Amount"},
	}
	for _, e := range r.Entries {
		entries.Rows = append(entries.Rows, []interface{}{
			e.WorkDate.Format("2006-01-02"), e.WorkerName, e.LineName, e.StyleNo, e.Operation, e.Quantity, e.RatePerPiece, e.Amount,
		})
	}
	return []*utils.Table{&workers, &entries}
}

package reports

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/models"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"github.com/shopspring/decimal"
)

type CashbookDayRow struct {
	Date           string          `json:"date"`
	EntryCount     int             `json:"entry_count"`
	Credit         decimal.Decimal `json:"credit"`
	Debit          decimal.Decimal `json:"debit"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
}

type CashbookSummaryReport struct {
	From string `json:"from"`
	To   string `json:"to"`
	models.CashbookSummary
	Days []*CashbookDayRow `json:"days"`
}

// GroupCashbookByDay folds ledger-ordered entries into daily movements.
func GroupCashbookByDay(entries []*models.CashbookEntry) []*CashbookDayRow {
	days := make([]*CashbookDayRow, 0)
	var current *CashbookDayRow
	for _, e := range entries {
		key := e.EntryDate.Format("2006-01-02")
		if current == nil || current.Date != key {
			current = &CashbookDayRow{Date: key, Credit: decimal.Zero, Debit: decimal.Zero}
			days = append(days, current)
		}
		current.EntryCount++
		if e.EntryType == models.EntryTypeCredit {
			current.Credit = current.Credit.Add(e.Amount)
		} else {
			current.Debit = current.Debit.Add(e.Amount)
		}
		current.ClosingBalance = e.RunningBalance
	}
	return days
}

func GetCashbookSummaryReport(ctx context.Context, dateRange models.DateRange) (*CashbookSummaryReport, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	ctx, span := startSpan(ctx, "CashbookSummary", factoryId)
	started := time.Now()
	defer logSlowReport(ctx, "GetCashbookSummaryReport", started, nil)

	report, err := func() (*CashbookSummaryReport, error) {
		summary, err := models.GetCashbookSummary(ctx, dateRange)
		if err != nil {
			return nil, err
		}
		entries, err := models.ListAllCashbookEntries(ctx, &models.CashbookFilter{DateRange: dateRange})
		if err != nil {
			return nil, err
		}
		return &CashbookSummaryReport{
			From:            dateText(dateRange.From),
			To:              dateText(dateRange.To),
			CashbookSummary: *summary,
			Days:            GroupCashbookByDay(entries),
		}, nil
	}()
	endSpan(span, err)
	return report, err
}

func (r *CashbookSummaryReport) Tables() []*utils.Table {
	table := utils.Table{
		Name:    "Cashbook by day",
		Headers: []string{"Date", "Entries", "Credit", "Debit", "Closing balance"},
	}
	for _, d := range r.Days {
		table.Rows = append(table.Rows, []interface{}{d.Date, d.EntryCount, d.Credit, d.Debit, d.ClosingBalance})
	}
	return []*utils.Table{&table}
}

package reports

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"bitbucket.org/mmdatafocus/garment_backend/models"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"github.com/shopspring/decimal"
)

type ExpenseCategoryTotal struct {
	CategoryId   int             `json:"category_id"`
	CategoryName string          `json:"category_name"`
	ExpenseCount int64           `json:"expense_count"`
	Amount       decimal.Decimal `json:"amount"`
}

type ExpenseSummaryReport struct {
	From         string                  `json:"from"`
	To           string                  `json:"to"`
	Categories   []*ExpenseCategoryTotal `json:"categories"`
	ExpenseCount int64                   `json:"expense_count"`
	TotalAmount  decimal.Decimal         `json:"total_amount"`
}

func expenseTotalsByCategory(ctx context.Context, factoryId string, dateRange models.DateRange, lineId *int) ([]*ExpenseCategoryTotal, error) {
	from, to, err := dateRange.DateBounds()
	if err != nil {
		return nil, err
	}
	db := config.GetDB().WithContext(ctx)
	dbCtx := db.Table("expenses AS e").
		Select("e.category_id AS category_id, c.name AS category_name, COUNT(*) AS expense_count, COALESCE(SUM(e.amount), 0) AS amount").
		Joins("LEFT JOIN expense_categories AS c ON c.id = e.category_id").
		Where("e.factory_id = ?", factoryId)
	if from != nil {
		dbCtx = dbCtx.Where("e.expense_date >= ?", *from)
	}
	if to != nil {
		dbCtx = dbCtx.Where("e.expense_date <= ?", *to)
	}
	if lineId != nil {
		dbCtx = dbCtx.Where("e.line_id = ?", *lineId)
	}
	results := make([]*ExpenseCategoryTotal, 0)
	if err := dbCtx.Group("e.category_id, c.name").Order("c.name").Scan(&results).Error; err != nil {
		return nil, err
	}
	for _, r := range results {
		r.Amount = r.Amount.Round(4)
	}
	return results, nil
}

func GetExpenseSummaryByCategory(ctx context.Context, dateRange models.DateRange) (*ExpenseSummaryReport, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	ctx, span := startSpan(ctx, "ExpenseSummary", factoryId)
	started := time.Now()
	defer logSlowReport(ctx, "GetExpenseSummaryByCategory", started, nil)

	categories, err := expenseTotalsByCategory(ctx, factoryId, dateRange, nil)
	endSpan(span, err)
	if err != nil {
		return nil, err
	}
	report := ExpenseSummaryReport{
		From:        dateText(dateRange.From),
		To:          dateText(dateRange.To),
		Categories:  categories,
		TotalAmount: decimal.Zero,
	}
	for _, c := range categories {
		report.ExpenseCount += c.ExpenseCount
		report.TotalAmount = report.TotalAmount.Add(c.Amount)
	}
	return &report, nil
}

func (r *ExpenseSummaryReport) Tables() []*utils.Table {
	table := utils.Table{
		Name:    "Expenses by category",
		Headers: []string{"Category", "Expenses", "Amount"},
	}
	for _, c := range r.Categories {
		table.Rows = append(table.Rows, []interface{}{c.CategoryName, c.ExpenseCount, c.Amount})
	}
	return []*utils.Table{&table}
}

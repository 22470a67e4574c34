package models

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const cashbookLockTTL = 30 * time.Second

type CashbookEntry struct {
	ID             int             `gorm:"primary_key" json:"id"`
	FactoryId      string          `gorm:"size:64;not null;index:idx_cashbook_order,priority:1" json:"factory_id"`
	EntryDate      time.Time       `gorm:"not null;index:idx_cashbook_order,priority:2" json:"entry_date"`
	SequenceNo     int64           `gorm:"not null" json:"sequence_no"`
	VoucherNo      string          `gorm:"size:50;not null" json:"voucher_no"`
	Description    string          `gorm:"type:text" json:"description"`
	Category       string          `gorm:"size:100;index" json:"category"`
	EntryType      EntryType       `gorm:"size:10;not null" json:"entry_type"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	RunningBalance decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"running_balance"`
	LineId         *int            `gorm:"index" json:"line_id"`
	ReferenceNo    string          `gorm:"size:100" json:"reference_no"`
	ExpenseId      *int            `gorm:"index" json:"expense_id"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCashbookEntry struct {
	EntryDate   MyDateString    `json:"entry_date" validate:"required"`
	Description string          `json:"description"`
	Category    string          `json:"category" validate:"max=100"`
	EntryType   EntryType       `json:"entry_type" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	LineId      *int            `json:"line_id"`
	ReferenceNo string          `json:"reference_no" validate:"max=100"`
}

type CashbookFilter struct {
	DateRange
	EntryType EntryType
	Category  string
	LineId    *int
}

type CashbookSummary struct {
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	TotalCredit    decimal.Decimal `json:"total_credit"`
	TotalDebit     decimal.Decimal `json:"total_debit"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
	EntryCount     int64           `json:"entry_count"`
}

func (e CashbookEntry) GetFactoryId() string     { return e.FactoryId }
func (e CashbookEntry) GetCursorTime() time.Time { return e.EntryDate }
func (e CashbookEntry) GetId() int               { return e.ID }

// SignedAmount is +amount for credits and -amount for debits.
func (e CashbookEntry) SignedAmount() decimal.Decimal {
	if e.EntryType == EntryTypeDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}

func VoucherNumber(seq int64) string {
	return fmt.Sprintf("CB-%06d", seq)
}

// SortCashbookEntries orders entries by (entry_date, id).
func SortCashbookEntries(entries []*CashbookEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].EntryDate.Equal(entries[j].EntryDate) {
			return entries[i].EntryDate.Before(entries[j].EntryDate)
		}
		return entries[i].ID < entries[j].ID
	})
}

// ApplyRunningBalance sorts entries and sets each running balance starting from opening.
// It returns the closing balance.
func ApplyRunningBalance(opening decimal.Decimal, entries []*CashbookEntry) decimal.Decimal {
	SortCashbookEntries(entries)
	balance := opening
	for _, e := range entries {
		balance = balance.Add(e.SignedAmount())
		e.RunningBalance = balance
	}
	return balance
}

// rebuildRunningBalances recomputes balances of every entry on or after from.
// The caller must hold the factory cashbook lock.
func rebuildRunningBalances(tx *gorm.DB, factoryId string, from time.Time) error {
	from = NormalizeDate(from)

	opening := decimal.Zero
	var previous CashbookEntry
	err := tx.Where("factory_id = ? AND entry_date < ?", factoryId, from).
		Order("entry_date DESC, id DESC").
		Limit(1).
		Find(&previous).Error
	if err != nil {
		return err
	}
	if previous.ID > 0 {
		opening = previous.RunningBalance
	}

	var entries []*CashbookEntry
	if err := tx.Where("factory_id = ? AND entry_date >= ?", factoryId, from).
		Order("entry_date, id").
		Find(&entries).Error; err != nil {
		return err
	}
	stored := make(map[int]decimal.Decimal, len(entries))
	for _, e := range entries {
		stored[e.ID] = e.RunningBalance
	}
	ApplyRunningBalance(opening, entries)
	for _, e := range entries {
		if stored[e.ID].Equal(e.RunningBalance) {
			continue
		}
		if err := tx.Model(&CashbookEntry{}).
			Where("factory_id = ? AND id = ?", factoryId, e.ID).
			UpdateColumn("running_balance", e.RunningBalance).Error; err != nil {
			return err
		}
	}
	return nil
}

// LockCashbook serializes balance-changing writes for one factory.
func LockCashbook(ctx context.Context, factoryId string, functionName string) (func(), error) {
	return utils.FactoryLock(ctx, factoryId, "Cashbook", cashbookLockTTL, "models", functionName)
}

// RebuildRunningBalances recomputes the whole ledger of the factory.
func RebuildRunningBalances(ctx context.Context) error {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return err
	}
	release, err := LockCashbook(ctx, factoryId, "RebuildRunningBalances")
	if err != nil {
		return err
	}
	defer release()

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = rebuildRunningBalances(tx, factoryId, time.Time{})
	return commitOrRollback(tx, err)
}

func (input *NewCashbookEntry) validate(ctx context.Context, factoryId string) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if !input.EntryType.IsValid() {
		return utils.NewFieldError("entry_type", "must be credit or debit")
	}
	if !input.Amount.IsPositive() {
		return utils.NewFieldError("amount", "must be greater than 0")
	}
	input.Category = strings.TrimSpace(input.Category)
	if input.LineId != nil && *input.LineId > 0 {
		if err := utils.ValidateResourceId[Line](ctx, factoryId, *input.LineId); err != nil {
			return utils.NewFieldError("line_id", "line not found")
		}
	} else {
		input.LineId = nil
	}
	return nil
}

// insertCashbookEntryTx creates the entry and rebuilds balances from its date.
func insertCashbookEntryTx(tx *gorm.DB, factoryId string, seq int64, input *NewCashbookEntry, expenseId *int) (*CashbookEntry, error) {
	entry := CashbookEntry{
		FactoryId:   factoryId,
		EntryDate:   NormalizeDate(input.EntryDate.Time()),
		SequenceNo:  seq,
		VoucherNo:   VoucherNumber(seq),
		Description: input.Description,
		Category:    input.Category,
		EntryType:   input.EntryType,
		Amount:      input.Amount,
		LineId:      input.LineId,
		ReferenceNo: input.ReferenceNo,
		ExpenseId:   expenseId,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, err
	}
	if err := rebuildRunningBalances(tx, factoryId, entry.EntryDate); err != nil {
		return nil, err
	}
	if err := tx.Where("id = ?", entry.ID).First(&entry).Error; err != nil {
		return nil, err
	}
	if err := saveChange(tx, "cashbook_entries", entry.ID, EventActionCreate, entry, nil, "created cashbook entry "+entry.VoucherNo); err != nil {
		return nil, err
	}
	return &entry, nil
}

// updateCashbookEntryTx rewrites the entry and rebuilds balances from the earlier of both dates.
func updateCashbookEntryTx(tx *gorm.DB, before *CashbookEntry, input *NewCashbookEntry) (*CashbookEntry, error) {
	after := *before
	after.EntryDate = NormalizeDate(input.EntryDate.Time())
	after.Description = input.Description
	after.Category = input.Category
	after.EntryType = input.EntryType
	after.Amount = input.Amount
	after.LineId = input.LineId
	after.ReferenceNo = input.ReferenceNo

	err := tx.Model(&CashbookEntry{}).Where("factory_id = ? AND id = ?", before.FactoryId, before.ID).
		Updates(map[string]interface{}{
			"EntryDate":   after.EntryDate,
			"Description": after.Description,
			"Category":    after.Category,
			"EntryType":   after.EntryType,
			"Amount":      after.Amount,
			"LineId":      after.LineId,
			"ReferenceNo": after.ReferenceNo,
		}).Error
	if err != nil {
		return nil, err
	}
	from := before.EntryDate
	if after.EntryDate.Before(from) {
		from = after.EntryDate
	}
	if err := rebuildRunningBalances(tx, before.FactoryId, from); err != nil {
		return nil, err
	}
	if err := tx.Where("id = ?", before.ID).First(&after).Error; err != nil {
		return nil, err
	}
	if err := saveChange(tx, "cashbook_entries", after.ID, EventActionUpdate, after, before, "updated cashbook entry "+after.VoucherNo); err != nil {
		return nil, err
	}
	return &after, nil
}

func deleteCashbookEntryTx(tx *gorm.DB, entry *CashbookEntry) error {
	if err := tx.Delete(entry).Error; err != nil {
		return err
	}
	if err := rebuildRunningBalances(tx, entry.FactoryId, entry.EntryDate); err != nil {
		return err
	}
	return saveChange(tx, "cashbook_entries", entry.ID, EventActionDelete, nil, entry, "deleted cashbook entry "+entry.VoucherNo)
}

func CreateCashbookEntry(ctx context.Context, input *NewCashbookEntry) (*CashbookEntry, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, factoryId); err != nil {
		return nil, err
	}

	release, err := LockCashbook(ctx, factoryId, "CreateCashbookEntry")
	if err != nil {
		return nil, err
	}
	defer release()

	seq, err := utils.GetSequence[CashbookEntry](ctx, factoryId)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	entry, err := insertCashbookEntryTx(tx, factoryId, seq, input, nil)
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	return entry, nil
}

func UpdateCashbookEntry(ctx context.Context, id int, input *NewCashbookEntry) (*CashbookEntry, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, factoryId); err != nil {
		return nil, err
	}

	release, err := LockCashbook(ctx, factoryId, "UpdateCashbookEntry")
	if err != nil {
		return nil, err
	}
	defer release()

	before, err := utils.FetchModel[CashbookEntry](ctx, factoryId, id)
	if err != nil {
		return nil, err
	}
	if before.ExpenseId != nil {
		return nil, utils.NewValidationError("entry was posted from expense #%d, edit the expense instead", *before.ExpenseId)
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	entry, err := updateCashbookEntryTx(tx, before, input)
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	return entry, nil
}

func DeleteCashbookEntry(ctx context.Context, id int) (*CashbookEntry, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	release, err := LockCashbook(ctx, factoryId, "DeleteCashbookEntry")
	if err != nil {
		return nil, err
	}
	defer release()

	result, err := utils.FetchModel[CashbookEntry](ctx, factoryId, id)
	if err != nil {
		return nil, err
	}
	if result.ExpenseId != nil {
		return nil, utils.NewValidationError("entry was posted from expense #%d, delete the expense instead", *result.ExpenseId)
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = deleteCashbookEntryTx(tx, result)
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	return result, nil
}

func GetCashbookEntry(ctx context.Context, id int) (*CashbookEntry, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	return utils.FetchModel[CashbookEntry](ctx, factoryId, id)
}

func (f *CashbookFilter) apply(dbCtx *gorm.DB) (*gorm.DB, error) {
	from, to, err := f.DateBounds()
	if err != nil {
		return nil, err
	}
	if from != nil {
		dbCtx = dbCtx.Where("entry_date >= ?", *from)
	}
	if to != nil {
		dbCtx = dbCtx.Where("entry_date <= ?", *to)
	}
	if f.EntryType != "" {
		if !f.EntryType.IsValid() {
			return nil, utils.NewFieldError("entry_type", "must be credit or debit")
		}
		dbCtx = dbCtx.Where("entry_type = ?", f.EntryType)
	}
	if f.Category != "" {
		dbCtx = dbCtx.Where("category = ?", f.Category)
	}
	if f.LineId != nil {
		dbCtx = dbCtx.Where("line_id = ?", *f.LineId)
	}
	return dbCtx, nil
}

// ListCashbookEntries pages entries in ledger order.
func ListCashbookEntries(ctx context.Context, filter *CashbookFilter, limit int, after string) (*Page[CashbookEntry], error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		filter = &CashbookFilter{}
	}
	dbCtx := config.GetDB().WithContext(ctx).Model(&CashbookEntry{}).Where("factory_id = ?", factoryId)
	dbCtx, err = filter.apply(dbCtx)
	if err != nil {
		return nil, err
	}
	return FetchPageCompositeCursor[CashbookEntry](dbCtx, limit, after, "entry_date", ">")
}

// ListAllCashbookEntries returns every matching entry in ledger order, for reports and exports.
func ListAllCashbookEntries(ctx context.Context, filter *CashbookFilter) ([]*CashbookEntry, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		filter = &CashbookFilter{}
	}
	dbCtx := config.GetDB().WithContext(ctx).Where("factory_id = ?", factoryId)
	dbCtx, err = filter.apply(dbCtx)
	if err != nil {
		return nil, err
	}
	var results []*CashbookEntry
	err = dbCtx.Order("entry_date, id").Find(&results).Error
	return results, err
}

type cashbookTotals struct {
	TotalCredit decimal.Decimal
	TotalDebit  decimal.Decimal
	EntryCount  int64
}

func sumCashbook(dbCtx *gorm.DB) (*cashbookTotals, error) {
	var totals cashbookTotals
	err := dbCtx.Model(&CashbookEntry{}).
		Select("COALESCE(SUM(CASE WHEN entry_type = ? THEN amount ELSE 0 END), 0) AS total_credit, "+
			"COALESCE(SUM(CASE WHEN entry_type = ? THEN amount ELSE 0 END), 0) AS total_debit, "+
			"COUNT(*) AS entry_count", EntryTypeCredit, EntryTypeDebit).
		Scan(&totals).Error
	if err != nil {
		return nil, err
	}
	return &totals, nil
}

// GetCashbookSummary returns opening, movements and closing balance for the range.
func GetCashbookSummary(ctx context.Context, dateRange DateRange) (*CashbookSummary, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	from, to, err := dateRange.DateBounds()
	if err != nil {
		return nil, err
	}
	db := config.GetDB().WithContext(ctx)

	summary := CashbookSummary{OpeningBalance: decimal.Zero}
	if from != nil {
		before, err := sumCashbook(db.Where("factory_id = ? AND entry_date < ?", factoryId, *from))
		if err != nil {
			return nil, err
		}
		summary.OpeningBalance = before.TotalCredit.Sub(before.TotalDebit)
	}

	inRange := db.Where("factory_id = ?", factoryId)
	if from != nil {
		inRange = inRange.Where("entry_date >= ?", *from)
	}
	if to != nil {
		inRange = inRange.Where("entry_date <= ?", *to)
	}
	totals, err := sumCashbook(inRange)
	if err != nil {
		return nil, err
	}
	summary.TotalCredit = totals.TotalCredit
	summary.TotalDebit = totals.TotalDebit
	summary.EntryCount = totals.EntryCount
	summary.ClosingBalance = summary.OpeningBalance.Add(totals.TotalCredit).Sub(totals.TotalDebit)
	return &summary, nil
}

// RebuildRunningBalancesTx recomputes the whole ledger inside tx.
// The caller must hold the factory cashbook lock.
func RebuildRunningBalancesTx(tx *gorm.DB, factoryId string) error {
	return rebuildRunningBalances(tx, factoryId, time.Time{})
}

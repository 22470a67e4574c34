package models

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"github.com/disintegration/imaging"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const MaxReceiptBytes = 10 << 20

type ExpenseCategory struct {
	ID        int       `gorm:"primary_key" json:"id"`
	FactoryId string    `gorm:"size:64;index;not null;uniqueIndex:idx_expense_category_name,priority:1" json:"factory_id"`
	Name      string    `gorm:"size:100;not null;uniqueIndex:idx_expense_category_name,priority:2" json:"name"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c ExpenseCategory) GetFactoryId() string { return c.FactoryId }

type NewExpenseCategory struct {
	Name string `json:"name" validate:"required,max=100"`
}

type Expense struct {
	ID              int             `gorm:"primary_key" json:"id"`
	FactoryId       string          `gorm:"size:64;not null;index:idx_expense_date,priority:1" json:"factory_id"`
	ExpenseDate     time.Time       `gorm:"not null;index:idx_expense_date,priority:2" json:"expense_date"`
	CategoryId      int             `gorm:"not null;index" json:"category_id"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Description     string          `gorm:"type:text" json:"description"`
	PaidTo          string          `gorm:"size:255" json:"paid_to"`
	PaymentMethod   string          `gorm:"size:50" json:"payment_method"`
	LineId          *int            `gorm:"index" json:"line_id"`
	ReceiptUrl      string          `gorm:"size:500" json:"receipt_url"`
	ThumbnailUrl    string          `gorm:"size:500" json:"thumbnail_url"`
	PostToCashbook  *bool           `gorm:"not null;default:false" json:"post_to_cashbook"`
	CashbookEntryId *int            `gorm:"index" json:"cashbook_entry_id"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (e Expense) GetFactoryId() string     { return e.FactoryId }
func (e Expense) GetCursorTime() time.Time { return e.ExpenseDate }
func (e Expense) GetId() int               { return e.ID }

type NewExpense struct {
	ExpenseDate    MyDateString    `json:"expense_date" validate:"required"`
	CategoryId     int             `json:"category_id" validate:"required"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description"`
	PaidTo         string          `json:"paid_to" validate:"max=255"`
	PaymentMethod  string          `json:"payment_method" validate:"max=50"`
	LineId         *int            `json:"line_id"`
	PostToCashbook bool            `json:"post_to_cashbook"`
}

type ExpenseFilter struct {
	DateRange
	CategoryId *int
	LineId     *int
}

type ReceiptUpload struct {
	ReceiptUrl   string `json:"receipt_url"`
	ThumbnailUrl string `json:"thumbnail_url"`
}

/* expense categories */

func CreateExpenseCategory(ctx context.Context, input *NewExpenseCategory) (*ExpenseCategory, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	input.Name = strings.TrimSpace(input.Name)
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if err := utils.ValidateUnique[ExpenseCategory](ctx, factoryId, "name", input.Name, 0); err != nil {
		return nil, err
	}
	category := ExpenseCategory{FactoryId: factoryId, Name: input.Name, IsActive: utils.NewTrue()}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = tx.Create(&category).Error
	if err == nil {
		err = saveChange(tx, "expense_categories", category.ID, EventActionCreate, category, nil, "created expense category "+category.Name)
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	reportsChanged(ctx, factoryId, "CreateExpenseCategory")
	if err := category.RemoveAllRedis(); err != nil {
		return nil, err
	}
	return &category, nil
}

func UpdateExpenseCategory(ctx context.Context, id int, input *NewExpenseCategory) (*ExpenseCategory, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	before, err := utils.FetchModel[ExpenseCategory](ctx, factoryId, id)
	if err != nil {
		return nil, err
	}
	input.Name = strings.TrimSpace(input.Name)
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if err := utils.ValidateUnique[ExpenseCategory](ctx, factoryId, "name", input.Name, id); err != nil {
		return nil, err
	}
	after := *before
	after.Name = input.Name

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = tx.Model(&after).UpdateColumn("name", after.Name).Error
	if err == nil {
		err = saveChange(tx, "expense_categories", id, EventActionUpdate, after, before, "renamed expense category "+after.Name)
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	reportsChanged(ctx, factoryId, "UpdateExpenseCategory")
	if err := RemoveRedisBoth(after); err != nil {
		return nil, err
	}
	return &after, nil
}

func DeleteExpenseCategory(ctx context.Context, id int) (*ExpenseCategory, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	result, err := utils.FetchModel[ExpenseCategory](ctx, factoryId, id)
	if err != nil {
		return nil, err
	}
	db := config.GetDB().WithContext(ctx)
	if err := ensureUnreferenced(db, factoryId, "category_id", id, "category is used by expenses", &Expense{}); err != nil {
		return nil, err
	}

	tx := db.Begin()
	err = tx.Delete(result).Error
	if err == nil {
		err = saveChange(tx, "expense_categories", id, EventActionDelete, nil, result, "deleted expense category "+result.Name)
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	reportsChanged(ctx, factoryId, "DeleteExpenseCategory")
	if err := RemoveRedisBoth(*result); err != nil {
		return nil, err
	}
	return result, nil
}

func GetExpenseCategory(ctx context.Context, id int) (*ExpenseCategory, error) {
	return GetResource[ExpenseCategory](ctx, id)
}

func ListExpenseCategories(ctx context.Context) ([]*ExpenseCategory, error) {
	return ListAllResource[ExpenseCategory](ctx, "name")
}

/* expenses */

func (input *NewExpense) validate(ctx context.Context, factoryId string) (*ExpenseCategory, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if !input.Amount.IsPositive() {
		return nil, utils.NewFieldError("amount", "must be greater than 0")
	}
	category, err := utils.FetchModel[ExpenseCategory](ctx, factoryId, input.CategoryId)
	if err != nil {
		return nil, utils.NewFieldError("category_id", "expense category not found")
	}
	if input.LineId != nil && *input.LineId > 0 {
		if err := utils.ValidateResourceId[Line](ctx, factoryId, *input.LineId); err != nil {
			return nil, utils.NewFieldError("line_id", "line not found")
		}
	} else {
		input.LineId = nil
	}
	return category, nil
}

func (input *NewExpense) cashbookInput(category *ExpenseCategory) *NewCashbookEntry {
	description := input.Description
	if input.PaidTo != "" {
		description = strings.TrimSpace(fmt.Sprintf("%s (paid to %s)", description, input.PaidTo))
	}
	return &NewCashbookEntry{
		EntryDate:   input.ExpenseDate,
		Description: description,
		Category:    category.Name,
		EntryType:   EntryTypeDebit,
		Amount:      input.Amount,
		LineId:      input.LineId,
	}
}

func expenseReference(id int) string {
	return fmt.Sprintf("EXP-%d", id)
}

func CreateExpense(ctx context.Context, input *NewExpense) (*Expense, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	category, err := input.validate(ctx, factoryId)
	if err != nil {
		return nil, err
	}

	var seq int64
	if input.PostToCashbook {
		release, err := LockCashbook(ctx, factoryId, "CreateExpense")
		if err != nil {
			return nil, err
		}
		defer release()
		if seq, err = utils.GetSequence[CashbookEntry](ctx, factoryId); err != nil {
			return nil, err
		}
	}

	expense := Expense{
		FactoryId:      factoryId,
		ExpenseDate:    NormalizeDate(input.ExpenseDate.Time()),
		CategoryId:     input.CategoryId,
		Amount:         input.Amount,
		Description:    input.Description,
		PaidTo:         input.PaidTo,
		PaymentMethod:  input.PaymentMethod,
		LineId:         input.LineId,
		PostToCashbook: &input.PostToCashbook,
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = func() error {
		if err := tx.Create(&expense).Error; err != nil {
			return err
		}
		if input.PostToCashbook {
			entryInput := input.cashbookInput(category)
			entryInput.ReferenceNo = expenseReference(expense.ID)
			entry, err := insertCashbookEntryTx(tx, factoryId, seq, entryInput, &expense.ID)
			if err != nil {
				return err
			}
			expense.CashbookEntryId = &entry.ID
			if err := tx.Model(&expense).UpdateColumn("cashbook_entry_id", entry.ID).Error; err != nil {
				return err
			}
		}
		return saveChange(tx, "expenses", expense.ID, EventActionCreate, expense, nil, "created expense")
	}()
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	reportsChanged(ctx, factoryId, "CreateExpense")
	return &expense, nil
}

func UpdateExpense(ctx context.Context, id int, input *NewExpense) (*Expense, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	category, err := input.validate(ctx, factoryId)
	if err != nil {
		return nil, err
	}

	// the link is read under the lock so concurrent posts see each other's entry
	release, err := LockCashbook(ctx, factoryId, "UpdateExpense")
	if err != nil {
		return nil, err
	}
	defer release()
	before, err := utils.FetchModel[Expense](ctx, factoryId, id)
	if err != nil {
		return nil, err
	}

	linked := before.CashbookEntryId != nil
	var seq int64
	if !linked && input.PostToCashbook {
		if seq, err = utils.GetSequence[CashbookEntry](ctx, factoryId); err != nil {
			return nil, err
		}
	}

	after := *before
	after.ExpenseDate = NormalizeDate(input.ExpenseDate.Time())
	after.CategoryId = input.CategoryId
	after.Amount = input.Amount
	after.Description = input.Description
	after.PaidTo = input.PaidTo
	after.PaymentMethod = input.PaymentMethod
	after.LineId = input.LineId
	after.PostToCashbook = &input.PostToCashbook

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = func() error {
		entryInput := input.cashbookInput(category)
		entryInput.ReferenceNo = expenseReference(id)
		switch {
		case linked && input.PostToCashbook:
			entry, err := utils.FetchModelTx[CashbookEntry](tx, factoryId, *before.CashbookEntryId)
			if err != nil {
				return err
			}
			if _, err := updateCashbookEntryTx(tx, entry, entryInput); err != nil {
				return err
			}
		case linked:
			entry, err := utils.FetchModelTx[CashbookEntry](tx, factoryId, *before.CashbookEntryId)
			if err != nil {
				return err
			}
			if err := deleteCashbookEntryTx(tx, entry); err != nil {
				return err
			}
			after.CashbookEntryId = nil
		case input.PostToCashbook:
			entry, err := insertCashbookEntryTx(tx, factoryId, seq, entryInput, &id)
			if err != nil {
				return err
			}
			after.CashbookEntryId = &entry.ID
		}

		if err := tx.Model(&Expense{}).Where("factory_id = ? AND id = ?", factoryId, id).Updates(map[string]interface{}{
			"ExpenseDate":     after.ExpenseDate,
			"CategoryId":      after.CategoryId,
			"Amount":          after.Amount,
			"Description":     after.Description,
			"PaidTo":          after.PaidTo,
			"PaymentMethod":   after.PaymentMethod,
			"LineId":          after.LineId,
			"PostToCashbook":  after.PostToCashbook,
			"CashbookEntryId": after.CashbookEntryId,
		}).Error; err != nil {
			return err
		}
		return saveChange(tx, "expenses", id, EventActionUpdate, after, before, "updated expense")
	}()
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	reportsChanged(ctx, factoryId, "UpdateExpense")
	return &after, nil
}

func DeleteExpense(ctx context.Context, id int) (*Expense, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	release, err := LockCashbook(ctx, factoryId, "DeleteExpense")
	if err != nil {
		return nil, err
	}
	defer release()
	result, err := utils.FetchModel[Expense](ctx, factoryId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = func() error {
		if result.CashbookEntryId != nil {
			entry, err := utils.FetchModelTx[CashbookEntry](tx, factoryId, *result.CashbookEntryId)
			if err != nil && !isNotFound(err) {
				return err
			}
			if entry != nil {
				if err := deleteCashbookEntryTx(tx, entry); err != nil {
					return err
				}
			}
		}
		if err := tx.Delete(result).Error; err != nil {
			return err
		}
		return saveChange(tx, "expenses", id, EventActionDelete, nil, result, "deleted expense")
	}()
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	reportsChanged(ctx, factoryId, "DeleteExpense")
	return result, nil
}

func GetExpense(ctx context.Context, id int) (*Expense, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	return utils.FetchModel[Expense](ctx, factoryId, id)
}

func (f *ExpenseFilter) apply(dbCtx *gorm.DB) (*gorm.DB, error) {
	from, to, err := f.DateBounds()
	if err != nil {
		return nil, err
	}
	if from != nil {
		dbCtx = dbCtx.Where("expense_date >= ?", *from)
	}
	if to != nil {
		dbCtx = dbCtx.Where("expense_date <= ?", *to)
	}
	if f.CategoryId != nil {
		dbCtx = dbCtx.Where("category_id = ?", *f.CategoryId)
	}
	if f.LineId != nil {
		dbCtx = dbCtx.Where("line_id = ?", *f.LineId)
	}
	return dbCtx, nil
}

// ListExpenses pages expenses newest first.
func ListExpenses(ctx context.Context, filter *ExpenseFilter, limit int, after string) (*Page[Expense], error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		filter = &ExpenseFilter{}
	}
	dbCtx := config.GetDB().WithContext(ctx).Model(&Expense{}).Where("factory_id = ?", factoryId)
	dbCtx, err = filter.apply(dbCtx)
	if err != nil {
		return nil, err
	}
	return FetchPageCompositeCursor[Expense](dbCtx, limit, after, "expense_date", "<")
}

func ListAllExpenses(ctx context.Context, filter *ExpenseFilter) ([]*Expense, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		filter = &ExpenseFilter{}
	}
	dbCtx := config.GetDB().WithContext(ctx).Where("factory_id = ?", factoryId)
	dbCtx, err = filter.apply(dbCtx)
	if err != nil {
		return nil, err
	}
	var results []*Expense
	err = dbCtx.Order("expense_date, id").Find(&results).Error
	return results, err
}

/* receipts */

func generateThumbnail(originalData []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(originalData))
	if err != nil {
		return nil, err
	}
	thumbnail := imaging.Resize(img, 200, 0, imaging.Lanczos)

	var thumbnailBuffer bytes.Buffer
	if err := imaging.Encode(&thumbnailBuffer, thumbnail, imaging.JPEG); err != nil {
		return nil, err
	}
	return thumbnailBuffer.Bytes(), nil
}

// UploadExpenseReceipt stores the receipt image and its thumbnail, then links both to the expense.
func UploadExpenseReceipt(ctx context.Context, store utils.ObjectStore, id int, filename string, contentType string, file io.Reader) (*ReceiptUpload, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	before, err := utils.FetchModel[Expense](ctx, factoryId, id)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, errors.New("nil file provided")
	}
	data, err := io.ReadAll(io.LimitReader(file, MaxReceiptBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxReceiptBytes {
		return nil, utils.NewFieldError("file", "receipt is larger than 10MB")
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return nil, utils.NewFieldError("file", "file has no extension")
	}
	thumbnailData, err := generateThumbnail(data)
	if err != nil {
		return nil, utils.NewFieldError("file", "receipt must be an image")
	}

	uniqueFilename := utils.GenerateUniqueFilename()
	originalKey := path.Join("receipts", factoryId, uniqueFilename+ext)
	thumbnailKey := path.Join("receipts", factoryId, "thumbnails", uniqueFilename+".jpg")
	if _, err := store.Put(ctx, originalKey, bytes.NewReader(data), contentType); err != nil {
		return nil, err
	}
	if _, err := store.Put(ctx, thumbnailKey, bytes.NewReader(thumbnailData), "image/jpeg"); err != nil {
		return nil, err
	}

	result := ReceiptUpload{
		ReceiptUrl:   utils.BuildObjectAccessURL(originalKey),
		ThumbnailUrl: utils.BuildObjectAccessURL(thumbnailKey),
	}
	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = tx.Model(&Expense{}).Where("factory_id = ? AND id = ?", factoryId, id).Updates(map[string]interface{}{
		"ReceiptUrl":   result.ReceiptUrl,
		"ThumbnailUrl": result.ThumbnailUrl,
	}).Error
	if err == nil {
		err = createHistory(tx, "UPDATE", id, "expenses", before, result, "uploaded receipt")
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	return &result, nil
}

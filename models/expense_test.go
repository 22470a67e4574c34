package models_test

import (
	"bytes"
	"image/color"
	"strings"
	"sync"
	"testing"

	"bitbucket.org/mmdatafocus/garment_backend/dbtest"
	"bitbucket.org/mmdatafocus/garment_backend/models"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpensePostsToCashbook(t *testing.T) {
	dbtest.Setup(t)
	_, ctx := dbtest.NewFactory(t, "Expenses")

	categories, err := models.ListExpenseCategories(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, categories)
	category := categories[0]

	_, err = models.CreateCashbookEntry(ctx, &models.NewCashbookEntry{
		EntryDate: dbtest.Date("2024-02-01"), EntryType: models.EntryTypeCredit, Amount: dbtest.Dec("1000"),
	})
	require.NoError(t, err)

	expense, err := models.CreateExpense(ctx, &models.NewExpense{
		ExpenseDate:    dbtest.Date("2024-02-05"),
		CategoryId:     category.ID,
		Amount:         dbtest.Dec("120"),
		Description:    "thread",
		PaidTo:         "Supplier",
		PostToCashbook: true,
	})
	require.NoError(t, err)
	require.NotNil(t, expense.CashbookEntryId)

	entry, err := models.GetCashbookEntry(ctx, *expense.CashbookEntryId)
	require.NoError(t, err)
	assert.Equal(t, models.EntryTypeDebit, entry.EntryType)
	assert.True(t, entry.Amount.Equal(dbtest.Dec("120")))
	assert.Equal(t, category.Name, entry.Category)
	assert.Equal(t, "thread (paid to Supplier)", entry.Description)
	assert.True(t, entry.RunningBalance.Equal(dbtest.Dec("880")))
	require.NotNil(t, entry.ExpenseId)
	assert.Equal(t, expense.ID, *entry.ExpenseId)

	// the linked entry is owned by the expense
	_, err = models.DeleteCashbookEntry(ctx, entry.ID)
	var ve *utils.ValidationError
	require.ErrorAs(t, err, &ve)

	updated, err := models.UpdateExpense(ctx, expense.ID, &models.NewExpense{
		ExpenseDate:    dbtest.Date("2024-01-20"),
		CategoryId:     category.ID,
		Amount:         dbtest.Dec("200"),
		PostToCashbook: true,
	})
	require.NoError(t, err)
	assert.Equal(t, entry.ID, *updated.CashbookEntryId)

	entries, err := models.ListAllCashbookEntries(ctx, nil)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assertLedgerConsistent(t, entries)
	assert.True(t, entries[0].Amount.Equal(dbtest.Dec("200")))
	assert.True(t, entries[1].RunningBalance.Equal(dbtest.Dec("800")))

	// unposting removes the entry
	_, err = models.UpdateExpense(ctx, expense.ID, &models.NewExpense{
		ExpenseDate:    dbtest.Date("2024-01-20"),
		CategoryId:     category.ID,
		Amount:         dbtest.Dec("200"),
		PostToCashbook: false,
	})
	require.NoError(t, err)
	entries, err = models.ListAllCashbookEntries(ctx, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].RunningBalance.Equal(dbtest.Dec("1000")))

	_, err = models.DeleteExpense(ctx, expense.ID)
	require.NoError(t, err)
}

func TestDeleteExpenseRemovesLinkedEntry(t *testing.T) {
	dbtest.Setup(t)
	_, ctx := dbtest.NewFactory(t, "Delete")
	categories, err := models.ListExpenseCategories(ctx)
	require.NoError(t, err)

	expense, err := models.CreateExpense(ctx, &models.NewExpense{
		ExpenseDate: dbtest.Date("2024-02-05"), CategoryId: categories[0].ID, Amount: dbtest.Dec("50"), PostToCashbook: true,
	})
	require.NoError(t, err)

	_, err = models.DeleteExpenseCategory(ctx, categories[0].ID)
	var ve *utils.ValidationError
	require.ErrorAs(t, err, &ve)

	_, err = models.DeleteExpense(ctx, expense.ID)
	require.NoError(t, err)
	entries, err := models.ListAllCashbookEntries(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestConcurrentPostsShareOneEntry(t *testing.T) {
	dbtest.Setup(t)
	factory, ctx := dbtest.NewFactory(t, "Concurrent")
	categories, err := models.ListExpenseCategories(ctx)
	require.NoError(t, err)

	expense, err := models.CreateExpense(ctx, &models.NewExpense{
		ExpenseDate: dbtest.Date("2024-02-05"), CategoryId: categories[0].ID, Amount: dbtest.Dec("100"),
	})
	require.NoError(t, err)
	require.Nil(t, expense.CashbookEntryId)

	// both updates queue behind the ledger lock
	release, err := models.LockCashbook(ctx, factory.ID, "test")
	require.NoError(t, err)
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, amount := range []string{"100", "200"} {
		wg.Add(1)
		go func(amount string) {
			defer wg.Done()
			_, err := models.UpdateExpense(ctx, expense.ID, &models.NewExpense{
				ExpenseDate: dbtest.Date("2024-02-05"), CategoryId: categories[0].ID, Amount: dbtest.Dec(amount), PostToCashbook: true,
			})
			errs <- err
		}(amount)
	}
	release()
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	entries, err := models.ListAllCashbookEntries(ctx, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].ExpenseId)
	assert.Equal(t, expense.ID, *entries[0].ExpenseId)

	_, err = models.DeleteExpense(ctx, expense.ID)
	require.NoError(t, err)
	entries, err = models.ListAllCashbookEntries(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUploadExpenseReceipt(t *testing.T) {
	dbtest.Setup(t)
	_, ctx := dbtest.NewFactory(t, "Receipts")
	categories, err := models.ListExpenseCategories(ctx)
	require.NoError(t, err)
	expense, err := models.CreateExpense(ctx, &models.NewExpense{
		ExpenseDate: dbtest.Date("2024-02-05"), CategoryId: categories[0].ID, Amount: dbtest.Dec("50"),
	})
	require.NoError(t, err)

	store, err := utils.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	img := imaging.New(640, 480, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))

	upload, err := models.UploadExpenseReceipt(ctx, store, expense.ID, "receipt.png", "image/png", &buf)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(upload.ReceiptUrl, ".png"))
	assert.Contains(t, upload.ThumbnailUrl, "thumbnails/")

	stored, err := models.GetExpense(ctx, expense.ID)
	require.NoError(t, err)
	assert.Equal(t, upload.ReceiptUrl, stored.ReceiptUrl)

	_, err = models.UploadExpenseReceipt(ctx, store, expense.ID, "notes.txt", "text/plain", strings.NewReader("not an image"))
	var ve *utils.ValidationError
	require.ErrorAs(t, err, &ve)
}

package models_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/dbtest"
	"bitbucket.org/mmdatafocus/garment_backend/models"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShipmentTotal(t *testing.T) {
	assert.True(t, models.ShipmentTotal(120, dbtest.Dec("2.5")).Equal(dbtest.Dec("300")))
	assert.True(t, models.ShipmentTotal(0, dbtest.Dec("9.99")).IsZero())
}

func TestShipmentStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to models.ShipmentStatus
		ok       bool
	}{
		{models.ShipmentStatusPending, models.ShipmentStatusShipped, true},
		{models.ShipmentStatusPending, models.ShipmentStatusCancelled, true},
		{models.ShipmentStatusPending, models.ShipmentStatusDelivered, false},
		{models.ShipmentStatusShipped, models.ShipmentStatusDelivered, true},
		{models.ShipmentStatusShipped, models.ShipmentStatusPending, false},
		{models.ShipmentStatusDelivered, models.ShipmentStatusCancelled, false},
		{models.ShipmentStatusCancelled, models.ShipmentStatusPending, false},
		{models.ShipmentStatusDelivered, models.ShipmentStatusDelivered, true},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.ok, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestCreateShipmentDefaultsFromStyle(t *testing.T) {
	dbtest.Setup(t)
	_, ctx := dbtest.NewFactory(t, "Shipping")
	style := dbtest.MustStyle(t, ctx, "ST-100", 4)

	shipment, err := models.CreateShipment(ctx, &models.NewShipment{
		ShipmentDate: dbtest.Date("2024-05-01"),
		InvoiceNo:    " INV-1 ",
		StyleId:      style.ID,
		Quantity:     250,
	})
	require.NoError(t, err)
	assert.Equal(t, "INV-1", shipment.InvoiceNo)
	assert.Equal(t, models.ShipmentStatusPending, shipment.Status)
	assert.True(t, shipment.UnitPrice.Equal(decimal.NewFromInt(4)))
	assert.True(t, shipment.TotalAmount.Equal(decimal.NewFromInt(1000)))

	price := dbtest.Dec("3.5")
	custom, err := models.CreateShipment(ctx, &models.NewShipment{
		ShipmentDate: dbtest.Date("2024-05-02"),
		InvoiceNo:    "INV-2",
		StyleId:      style.ID,
		Quantity:     10,
		UnitPrice:    &price,
	})
	require.NoError(t, err)
	assert.True(t, custom.TotalAmount.Equal(dbtest.Dec("35")))

	_, err = models.CreateShipment(ctx, &models.NewShipment{
		ShipmentDate: dbtest.Date("2024-05-03"),
		InvoiceNo:    "INV-1",
		StyleId:      style.ID,
		Quantity:     1,
	})
	assert.ErrorIs(t, err, utils.ErrorDuplicate)

	shipped, err := models.UpdateShipmentStatus(ctx, shipment.ID, models.ShipmentStatusShipped)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentStatusShipped, shipped.Status)

	_, err = models.UpdateShipmentStatus(ctx, shipment.ID, models.ShipmentStatusPending)
	var ve *utils.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestAchievementPercent(t *testing.T) {
	assert.True(t, models.AchievementPercent(50, 200).Equal(dbtest.Dec("25")))
	assert.True(t, models.AchievementPercent(1, 3).Equal(dbtest.Dec("33.33")))
	assert.True(t, models.AchievementPercent(250, 200).Equal(dbtest.Dec("125")))
	assert.True(t, models.AchievementPercent(10, 0).IsZero())
}

func TestTargetAchievementFromCuttingOutput(t *testing.T) {
	dbtest.Setup(t)
	_, ctx := dbtest.NewFactory(t, "Targets")
	line := dbtest.MustLine(t, ctx, "Line 1")
	style := dbtest.MustStyle(t, ctx, "ST-1", 2)

	target, err := models.CreateTarget(ctx, &models.NewTarget{
		TargetDate: dbtest.Date("2024-06-10"), LineId: line.ID, StyleId: style.ID, TargetQty: 400,
	})
	require.NoError(t, err)

	for _, e := range []models.NewCuttingEntry{
		{EntryDate: dbtest.Date("2024-06-10"), LineId: line.ID, StyleId: style.ID, InputQty: 500},
		{EntryDate: dbtest.Date("2024-06-10"), LineId: line.ID, StyleId: style.ID, OutputQty: 120},
		{EntryDate: dbtest.Date("2024-06-10"), LineId: line.ID, StyleId: style.ID, OutputQty: 180},
		{EntryDate: dbtest.Date("2024-06-11"), LineId: line.ID, StyleId: style.ID, OutputQty: 50},
	} {
		e := e
		_, err := models.CreateCuttingEntry(ctx, &e)
		require.NoError(t, err)
	}

	got, err := models.GetTarget(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, 300, got.AchievedQty)
	assert.True(t, got.AchievementPercent.Equal(dbtest.Dec("75")), got.AchievementPercent.String())

	_, err = models.CreateTarget(ctx, &models.NewTarget{
		TargetDate: dbtest.Date("2024-06-10"), LineId: line.ID, StyleId: style.ID, TargetQty: 10,
	})
	assert.ErrorIs(t, err, utils.ErrorDuplicate)

	list, err := models.ListTargets(ctx, nil)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 300, list[0].AchievedQty)
}

func TestCuttingOutputCannotExceedInput(t *testing.T) {
	dbtest.Setup(t)
	_, ctx := dbtest.NewFactory(t, "Cutting")
	line := dbtest.MustLine(t, ctx, "Line A")
	style := dbtest.MustStyle(t, ctx, "ST-9", 1)

	input, err := models.CreateCuttingEntry(ctx, &models.NewCuttingEntry{
		EntryDate: dbtest.Date("2024-07-01"), LineId: line.ID, StyleId: style.ID, InputQty: 100,
	})
	require.NoError(t, err)

	_, err = models.CreateCuttingEntry(ctx, &models.NewCuttingEntry{
		EntryDate: dbtest.Date("2024-07-02"), LineId: line.ID, StyleId: style.ID, OutputQty: 101,
	})
	var ve *utils.ValidationError
	require.ErrorAs(t, err, &ve)

	output, err := models.CreateCuttingEntry(ctx, &models.NewCuttingEntry{
		EntryDate: dbtest.Date("2024-07-02"), LineId: line.ID, StyleId: style.ID, OutputQty: 60,
	})
	require.NoError(t, err)

	balance, err := models.GetCuttingBalance(ctx, line.ID, style.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, balance.InputQty)
	assert.Equal(t, 60, balance.OutputQty)
	assert.Equal(t, 40, balance.Wip())

	// shrinking input below recorded output is refused
	_, err = models.UpdateCuttingEntry(ctx, input.ID, &models.NewCuttingEntry{
		EntryDate: dbtest.Date("2024-07-01"), LineId: line.ID, StyleId: style.ID, InputQty: 50,
	})
	require.ErrorAs(t, err, &ve)

	_, err = models.DeleteCuttingEntry(ctx, input.ID)
	require.ErrorAs(t, err, &ve)

	_, err = models.DeleteCuttingEntry(ctx, output.ID)
	require.NoError(t, err)
	_, err = models.DeleteCuttingEntry(ctx, input.ID)
	require.NoError(t, err)

	_, err = models.CreateCuttingEntry(ctx, &models.NewCuttingEntry{
		EntryDate: dbtest.Date("2024-07-03"), LineId: line.ID, StyleId: style.ID,
	})
	require.ErrorAs(t, err, &ve)
}

func TestPickEffectiveRate(t *testing.T) {
	day := func(s string) time.Time { return dbtest.Date(s).Time() }
	rates := []*models.SalaryRate{
		{ID: 1, StyleId: 1, Operation: "sewing", RatePerPiece: dbtest.Dec("10"), EffectiveFrom: day("2024-01-01"), IsActive: utils.NewTrue()},
		{ID: 2, StyleId: 1, Operation: "sewing", RatePerPiece: dbtest.Dec("12"), EffectiveFrom: day("2024-03-01"), IsActive: utils.NewTrue()},
		{ID: 3, StyleId: 1, Operation: "sewing", RatePerPiece: dbtest.Dec("15"), EffectiveFrom: day("2024-04-01"), IsActive: utils.NewFalse()},
		{ID: 4, StyleId: 1, Operation: "ironing", RatePerPiece: dbtest.Dec("3"), EffectiveFrom: day("2024-01-01"), IsActive: utils.NewTrue()},
		{ID: 5, StyleId: 2, Operation: "sewing", RatePerPiece: dbtest.Dec("20"), EffectiveFrom: day("2023-01-01"), IsActive: utils.NewTrue()},
	}

	tests := []struct {
		name      string
		styleId   int
		operation string
		date      string
		wantId    int
	}{
		{"before any rate", 1, "sewing", "2023-12-31", 0},
		{"first day of rate", 1, "sewing", "2024-01-01", 1},
		{"between rates", 1, "sewing", "2024-02-15", 1},
		{"newer rate", 1, "sewing", "2024-03-01", 2},
		{"inactive rate ignored", 1, "sewing", "2024-05-01", 2},
		{"operation is case insensitive", 1, "Ironing", "2024-02-01", 4},
		{"other style", 2, "sewing", "2024-02-01", 5},
		{"unknown operation", 1, "packing", "2024-02-01", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := models.PickEffectiveRate(rates, tt.styleId, tt.operation, day(tt.date))
			if tt.wantId == 0 {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantId, got.ID)
		})
	}
}

func TestGetEffectiveRate(t *testing.T) {
	dbtest.Setup(t)
	_, ctx := dbtest.NewFactory(t, "Rates")
	style := dbtest.MustStyle(t, ctx, "ST-5", 1)

	for _, in := range []models.NewSalaryRate{
		{StyleId: style.ID, Operation: "sewing", RatePerPiece: dbtest.Dec("10"), EffectiveFrom: dbtest.Date("2024-01-01")},
		{StyleId: style.ID, Operation: "sewing", RatePerPiece: dbtest.Dec("12"), EffectiveFrom: dbtest.Date("2024-03-01")},
	} {
		in := in
		_, err := models.CreateSalaryRate(ctx, &in)
		require.NoError(t, err)
	}

	rate, err := models.GetEffectiveRate(ctx, style.ID, "sewing", dbtest.Date("2024-02-10").Time())
	require.NoError(t, err)
	assert.True(t, rate.RatePerPiece.Equal(dbtest.Dec("10")))

	rate, err = models.GetEffectiveRate(ctx, style.ID, "sewing", dbtest.Date("2024-03-10").Time())
	require.NoError(t, err)
	assert.True(t, rate.RatePerPiece.Equal(dbtest.Dec("12")))

	_, err = models.GetEffectiveRate(ctx, style.ID, "sewing", dbtest.Date("2023-12-01").Time())
	assert.ErrorIs(t, err, utils.ErrorRecordNotFound)
}

func TestDeleteReferencedLineOrStyleIsRefused(t *testing.T) {
	dbtest.Setup(t)
	_, ctx := dbtest.NewFactory(t, "References")

	cutting := func(ctx context.Context, lineId, styleId int) error {
		_, err := models.CreateCuttingEntry(ctx, &models.NewCuttingEntry{
			EntryDate: dbtest.Date("2024-06-01"), LineId: lineId, StyleId: styleId, InputQty: 10,
		})
		return err
	}
	target := func(ctx context.Context, lineId, styleId int) error {
		_, err := models.CreateTarget(ctx, &models.NewTarget{
			TargetDate: dbtest.Date("2024-06-01"), LineId: lineId, StyleId: styleId, TargetQty: 10,
		})
		return err
	}
	piecework := func(ctx context.Context, lineId, styleId int) error {
		_, err := models.CreatePieceworkEntry(ctx, &models.NewPieceworkEntry{
			WorkDate: dbtest.Date("2024-06-01"), WorkerName: "Aye", LineId: lineId, StyleId: styleId, Operation: "sewing", Quantity: 5,
		})
		return err
	}
	shipment := func(ctx context.Context, _, styleId int) error {
		_, err := models.CreateShipment(ctx, &models.NewShipment{
			ShipmentDate: dbtest.Date("2024-06-01"), InvoiceNo: fmt.Sprintf("INV-%d", styleId), StyleId: styleId, Quantity: 1,
		})
		return err
	}
	salaryRate := func(ctx context.Context, _, styleId int) error {
		_, err := models.CreateSalaryRate(ctx, &models.NewSalaryRate{
			StyleId: styleId, Operation: "sewing", RatePerPiece: dbtest.Dec("1"), EffectiveFrom: dbtest.Date("2024-01-01"),
		})
		return err
	}

	tests := []struct {
		name       string
		reference  func(ctx context.Context, lineId, styleId int) error
		lineInUse  bool
		styleInUse bool
	}{
		{"cutting", cutting, true, true},
		{"target", target, true, true},
		{"piecework", piecework, true, true},
		{"shipment", shipment, false, true},
		{"salary rate", salaryRate, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := dbtest.MustLine(t, ctx, "Line "+tt.name)
			style := dbtest.MustStyle(t, ctx, "ST-"+tt.name, 3)
			require.NoError(t, tt.reference(ctx, line.ID, style.ID))

			var ve *utils.ValidationError
			_, err := models.DeleteLine(ctx, line.ID)
			if tt.lineInUse {
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, "line is used by production records", err.Error())
				_, err = models.GetLine(ctx, line.ID)
				assert.NoError(t, err)
			} else {
				assert.NoError(t, err)
			}

			_, err = models.DeleteStyle(ctx, style.ID)
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, "style is used by production records", err.Error())
			_, err = models.GetStyle(ctx, style.ID)
			assert.NoError(t, err)
		})
	}

	unused := dbtest.MustLine(t, ctx, "Line idle")
	_, err := models.DeleteLine(ctx, unused.ID)
	assert.NoError(t, err)
}

func TestOperationNamesIgnoreCase(t *testing.T) {
	dbtest.Setup(t)
	_, ctx := dbtest.NewFactory(t, "Operation case")
	style := dbtest.MustStyle(t, ctx, "ST-7", 1)

	rate, err := models.CreateSalaryRate(ctx, &models.NewSalaryRate{
		StyleId: style.ID, Operation: "Sewing", RatePerPiece: dbtest.Dec("8"), EffectiveFrom: dbtest.Date("2024-01-01"),
	})
	require.NoError(t, err)

	day := dbtest.Date("2024-02-01").Time()
	for _, op := range []string{"Sewing", "sewing", " SEWING "} {
		got, err := models.GetEffectiveRate(ctx, style.ID, op, day)
		require.NoError(t, err, op)
		assert.Equal(t, rate.ID, got.ID, op)
		assert.Equal(t, rate.ID, models.PickEffectiveRate([]*models.SalaryRate{rate}, style.ID, op, day).ID, op)
	}

	listed, err := models.ListSalaryRates(ctx, &models.SalaryRateFilter{Operation: "sewing"})
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	_, err = models.CreateSalaryRate(ctx, &models.NewSalaryRate{
		StyleId: style.ID, Operation: "sewing", RatePerPiece: dbtest.Dec("9"), EffectiveFrom: dbtest.Date("2024-01-01"),
	})
	assert.ErrorIs(t, err, utils.ErrorDuplicate)
}

func TestUpdateShipmentKeepsAgreedPrice(t *testing.T) {
	dbtest.Setup(t)
	_, ctx := dbtest.NewFactory(t, "Repricing")
	style := dbtest.MustStyle(t, ctx, "ST-9", 4)
	other := dbtest.MustStyle(t, ctx, "ST-10", 7)

	shipment, err := models.CreateShipment(ctx, &models.NewShipment{
		ShipmentDate: dbtest.Date("2024-05-01"), InvoiceNo: "INV-9", StyleId: style.ID, Quantity: 10,
	})
	require.NoError(t, err)

	_, err = models.UpdateStyle(ctx, style.ID, &models.NewStyle{StyleNo: "ST-9", UnitPrice: decimal.NewFromInt(6)})
	require.NoError(t, err)

	updated, err := models.UpdateShipment(ctx, shipment.ID, &models.NewShipment{
		ShipmentDate: dbtest.Date("2024-05-01"), InvoiceNo: "INV-9", StyleId: style.ID, Quantity: 10, Remark: "left port late",
	})
	require.NoError(t, err)
	assert.Equal(t, "left port late", updated.Remark)
	assert.True(t, updated.UnitPrice.Equal(decimal.NewFromInt(4)), updated.UnitPrice.String())
	assert.True(t, updated.TotalAmount.Equal(decimal.NewFromInt(40)))

	// another style brings its own price
	moved, err := models.UpdateShipment(ctx, shipment.ID, &models.NewShipment{
		ShipmentDate: dbtest.Date("2024-05-01"), InvoiceNo: "INV-9", StyleId: other.ID, Quantity: 10,
	})
	require.NoError(t, err)
	assert.True(t, moved.UnitPrice.Equal(decimal.NewFromInt(7)), moved.UnitPrice.String())
}

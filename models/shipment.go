package models

import (
	"context"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Shipment struct {
	ID           int             `gorm:"primary_key" json:"id"`
	FactoryId    string          `gorm:"size:64;not null;uniqueIndex:idx_shipment_invoice,priority:1;index:idx_shipment_date,priority:1" json:"factory_id"`
	ShipmentDate time.Time       `gorm:"not null;index:idx_shipment_date,priority:2" json:"shipment_date"`
	InvoiceNo    string          `gorm:"size:100;not null;uniqueIndex:idx_shipment_invoice,priority:2" json:"invoice_no"`
	StyleId      int             `gorm:"not null;index" json:"style_id"`
	BuyerName    string          `gorm:"size:255" json:"buyer_name"`
	Destination  string          `gorm:"size:255" json:"destination"`
	Quantity     int             `gorm:"not null" json:"quantity"`
	UnitPrice    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_price"`
	TotalAmount  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_amount"`
	Status       ShipmentStatus  `gorm:"size:20;not null;default:'pending';index" json:"status"`
	Remark       string          `gorm:"type:text" json:"remark"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s Shipment) GetFactoryId() string     { return s.FactoryId }
func (s Shipment) GetCursorTime() time.Time { return s.ShipmentDate }
func (s Shipment) GetId() int               { return s.ID }

type NewShipment struct {
	ShipmentDate MyDateString     `json:"shipment_date" validate:"required"`
	InvoiceNo    string           `json:"invoice_no" validate:"required,max=100"`
	StyleId      int              `json:"style_id" validate:"required"`
	BuyerName    string           `json:"buyer_name" validate:"max=255"`
	Destination  string           `json:"destination" validate:"max=255"`
	Quantity     int              `json:"quantity" validate:"gt=0"`
	UnitPrice    *decimal.Decimal `json:"unit_price"`
	Status       ShipmentStatus   `json:"status"`
	Remark       string           `json:"remark"`
}

type ShipmentFilter struct {
	DateRange
	Status  ShipmentStatus
	StyleId *int
}

// ShipmentTotal is quantity × unit price.
func ShipmentTotal(quantity int, unitPrice decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
}

// resolve fills the unit price from the style when missing and returns it.
func (input *NewShipment) resolve(ctx context.Context, factoryId string, exceptId int) (decimal.Decimal, error) {
	input.InvoiceNo = strings.TrimSpace(input.InvoiceNo)
	if err := utils.ValidateStruct(input); err != nil {
		return decimal.Zero, err
	}
	if input.Status == "" {
		input.Status = ShipmentStatusPending
	}
	if !input.Status.IsValid() {
		return decimal.Zero, utils.NewFieldError("status", "must be pending, shipped, delivered or cancelled")
	}
	style, err := utils.FetchModel[Style](ctx, factoryId, input.StyleId)
	if err != nil {
		return decimal.Zero, utils.NewFieldError("style_id", "style not found")
	}
	if err := utils.ValidateUnique[Shipment](ctx, factoryId, "invoice_no", input.InvoiceNo, exceptId); err != nil {
		return decimal.Zero, err
	}
	unitPrice := style.UnitPrice
	if input.UnitPrice != nil {
		unitPrice = *input.UnitPrice
	}
	if unitPrice.IsNegative() {
		return decimal.Zero, utils.NewFieldError("unit_price", "must not be negative")
	}
	return unitPrice, nil
}

func CreateShipment(ctx context.Context, input *NewShipment) (*Shipment, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	unitPrice, err := input.resolve(ctx, factoryId, 0)
	if err != nil {
		return nil, err
	}
	shipment := Shipment{
		FactoryId:    factoryId,
		ShipmentDate: NormalizeDate(input.ShipmentDate.Time()),
		InvoiceNo:    input.InvoiceNo,
		StyleId:      input.StyleId,
		BuyerName:    input.BuyerName,
		Destination:  input.Destination,
		Quantity:     input.Quantity,
		UnitPrice:    unitPrice,
		TotalAmount:  ShipmentTotal(input.Quantity, unitPrice),
		Status:       input.Status,
		Remark:       input.Remark,
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = tx.Create(&shipment).Error
	if err == nil {
		err = saveChange(tx, "shipments", shipment.ID, EventActionCreate, shipment, nil, "created shipment "+shipment.InvoiceNo)
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	reportsChanged(ctx, factoryId, "CreateShipment")
	return &shipment, nil
}

func UpdateShipment(ctx context.Context, id int, input *NewShipment) (*Shipment, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	before, err := utils.FetchModel[Shipment](ctx, factoryId, id)
	if err != nil {
		return nil, err
	}
	if input.Status == "" {
		input.Status = before.Status
	}
	// the agreed price stays unless the style changes
	if input.UnitPrice == nil && input.StyleId == before.StyleId {
		price := before.UnitPrice
		input.UnitPrice = &price
	}
	unitPrice, err := input.resolve(ctx, factoryId, id)
	if err != nil {
		return nil, err
	}
	if !before.Status.CanTransitionTo(input.Status) {
		return nil, utils.NewFieldError("status", "cannot change status from "+string(before.Status)+" to "+string(input.Status))
	}

	after := *before
	after.ShipmentDate = NormalizeDate(input.ShipmentDate.Time())
	after.InvoiceNo = input.InvoiceNo
	after.StyleId = input.StyleId
	after.BuyerName = input.BuyerName
	after.Destination = input.Destination
	after.Quantity = input.Quantity
	after.UnitPrice = unitPrice
	after.TotalAmount = ShipmentTotal(input.Quantity, unitPrice)
	after.Status = input.Status
	after.Remark = input.Remark

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = tx.Model(&Shipment{}).Where("factory_id = ? AND id = ?", factoryId, id).Updates(map[string]interface{}{
		"ShipmentDate": after.ShipmentDate,
		"InvoiceNo":    after.InvoiceNo,
		"StyleId":      after.StyleId,
		"BuyerName":    after.BuyerName,
		"Destination":  after.Destination,
		"Quantity":     after.Quantity,
		"UnitPrice":    after.UnitPrice,
		"TotalAmount":  after.TotalAmount,
		"Status":       after.Status,
		"Remark":       after.Remark,
	}).Error
	if err == nil {
		err = saveChange(tx, "shipments", id, EventActionUpdate, after, before, "updated shipment "+after.InvoiceNo)
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	reportsChanged(ctx, factoryId, "UpdateShipment")
	return &after, nil
}

// UpdateShipmentStatus moves a shipment along pending → shipped → delivered, or to cancelled.
func UpdateShipmentStatus(ctx context.Context, id int, status ShipmentStatus) (*Shipment, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	if !status.IsValid() {
		return nil, utils.NewFieldError("status", "must be pending, shipped, delivered or cancelled")
	}
	before, err := utils.FetchModel[Shipment](ctx, factoryId, id)
	if err != nil {
		return nil, err
	}
	if !before.Status.CanTransitionTo(status) {
		return nil, utils.NewFieldError("status", "cannot change status from "+string(before.Status)+" to "+string(status))
	}
	after := *before
	after.Status = status

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = tx.Model(&Shipment{}).Where("factory_id = ? AND id = ?", factoryId, id).UpdateColumn("status", status).Error
	if err == nil {
		err = saveChange(tx, "shipments", id, EventActionUpdate, after, before, "shipment "+after.InvoiceNo+" is "+string(status))
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	reportsChanged(ctx, factoryId, "UpdateShipmentStatus")
	return &after, nil
}

func DeleteShipment(ctx context.Context, id int) (*Shipment, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	result, err := utils.FetchModel[Shipment](ctx, factoryId, id)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	err = tx.Delete(result).Error
	if err == nil {
		err = saveChange(tx, "shipments", id, EventActionDelete, nil, result, "deleted shipment "+result.InvoiceNo)
	}
	if err := commitOrRollback(tx, err); err != nil {
		return nil, err
	}
	reportsChanged(ctx, factoryId, "DeleteShipment")
	return result, nil
}

func GetShipment(ctx context.Context, id int) (*Shipment, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	return utils.FetchModel[Shipment](ctx, factoryId, id)
}

func (f *ShipmentFilter) apply(dbCtx *gorm.DB) (*gorm.DB, error) {
	from, to, err := f.DateBounds()
	if err != nil {
		return nil, err
	}
	if from != nil {
		dbCtx = dbCtx.Where("shipment_date >= ?", *from)
	}
	if to != nil {
		dbCtx = dbCtx.Where("shipment_date <= ?", *to)
	}
	if f.Status != "" {
		if !f.Status.IsValid() {
			return nil, utils.NewFieldError("status", "unknown status")
		}
		dbCtx = dbCtx.Where("status = ?", f.Status)
	}
	if f.StyleId != nil {
		dbCtx = dbCtx.Where("style_id = ?", *f.StyleId)
	}
	return dbCtx, nil
}

func ListShipments(ctx context.Context, filter *ShipmentFilter, limit int, after string) (*Page[Shipment], error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		filter = &ShipmentFilter{}
	}
	dbCtx := config.GetDB().WithContext(ctx).Model(&Shipment{}).Where("factory_id = ?", factoryId)
	dbCtx, err = filter.apply(dbCtx)
	if err != nil {
		return nil, err
	}
	return FetchPageCompositeCursor[Shipment](dbCtx, limit, after, "shipment_date", "<")
}

func ListAllShipments(ctx context.Context, filter *ShipmentFilter) ([]*Shipment, error) {
	factoryId, err := utils.RequireFactoryId(ctx)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		filter = &ShipmentFilter{}
	}
	dbCtx := config.GetDB().WithContext(ctx).Where("factory_id = ?", factoryId)
	dbCtx, err = filter.apply(dbCtx)
	if err != nil {
		return nil, err
	}
	var results []*Shipment
	err = dbCtx.Order("shipment_date, id").Find(&results).Error
	return results, err
}

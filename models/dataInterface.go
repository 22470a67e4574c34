package models

import (
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"github.com/shopspring/decimal"
)

type Identifier interface {
	GetId() int
}

// interface for dataloader result
type Data interface {
	Identifier
	GetDefault(int) Data
}

func (l Line) GetId() int {
	return l.ID
}

func (l Line) GetDefault(id int) Data {
	return Line{
		ID:        id,
		IsActive:  utils.NewFalse(),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func (s Style) GetId() int {
	return s.ID
}

func (s Style) GetDefault(id int) Data {
	return Style{
		ID:        id,
		UnitPrice: decimal.Zero,
		IsActive:  utils.NewFalse(),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func (r Role) GetId() int {
	return r.ID
}

func (r Role) GetDefault(id int) Data {
	return Role{
		ID:        id,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func (c ExpenseCategory) GetId() int {
	return c.ID
}

func (c ExpenseCategory) GetDefault(id int) Data {
	return ExpenseCategory{
		ID:        id,
		IsActive:  utils.NewFalse(),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

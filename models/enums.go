package models

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/utils"
)

type UserRole string

const (
	UserRoleAdmin  UserRole = "A"
	UserRoleOwner  UserRole = "O"
	UserRoleCustom UserRole = "C"
)

func (r UserRole) IsValid() bool {
	switch r {
	case UserRoleAdmin, UserRoleOwner, UserRoleCustom:
		return true
	}
	return false
}

type EntryType string

const (
	EntryTypeCredit EntryType = "credit"
	EntryTypeDebit  EntryType = "debit"
)

func (t EntryType) IsValid() bool {
	return t == EntryTypeCredit || t == EntryTypeDebit
}

type ShipmentStatus string

const (
	ShipmentStatusPending   ShipmentStatus = "pending"
	ShipmentStatusShipped   ShipmentStatus = "shipped"
	ShipmentStatusDelivered ShipmentStatus = "delivered"
	ShipmentStatusCancelled ShipmentStatus = "cancelled"
)

func (s ShipmentStatus) IsValid() bool {
	switch s {
	case ShipmentStatusPending, ShipmentStatusShipped, ShipmentStatusDelivered, ShipmentStatusCancelled:
		return true
	}
	return false
}

// IsRevenue reports whether shipments in this status count towards revenue.
func (s ShipmentStatus) IsRevenue() bool {
	return s == ShipmentStatusShipped || s == ShipmentStatusDelivered
}

var shipmentTransitions = map[ShipmentStatus][]ShipmentStatus{
	ShipmentStatusPending: {ShipmentStatusShipped, ShipmentStatusCancelled},
	ShipmentStatusShipped: {ShipmentStatusDelivered, ShipmentStatusCancelled},
}

func (s ShipmentStatus) CanTransitionTo(next ShipmentStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range shipmentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type BackupStatus string

const (
	BackupStatusPending   BackupStatus = "pending"
	BackupStatusCompleted BackupStatus = "completed"
	BackupStatusFailed    BackupStatus = "failed"
)

type BackupTrigger string

const (
	BackupTriggerManual    BackupTrigger = "manual"
	BackupTriggerScheduled BackupTrigger = "scheduled"
)

type BackupFrequency string

const (
	BackupFrequencyHourly BackupFrequency = "hourly"
	BackupFrequencyDaily  BackupFrequency = "daily"
	BackupFrequencyWeekly BackupFrequency = "weekly"
)

func (f BackupFrequency) IsValid() bool {
	switch f {
	case BackupFrequencyHourly, BackupFrequencyDaily, BackupFrequencyWeekly:
		return true
	}
	return false
}

type EventAction string

const (
	EventActionCreate EventAction = "C"
	EventActionUpdate EventAction = "U"
	EventActionDelete EventAction = "D"
)

// MyDateString is a calendar date ("2006-01-02") sent by clients.
type MyDateString time.Time

func ParseDateString(s string) (MyDateString, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", "2006-01-02T15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return MyDateString(t), nil
		}
	}
	return MyDateString{}, errors.New("error parsing date, expected YYYY-MM-DD")
}

func (t MyDateString) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).Format("2006-01-02"))
}

func (t *MyDateString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.New("MyDateString must be string")
	}
	d, err := ParseDateString(s)
	if err != nil {
		return err
	}
	*t = d
	return nil
}

// StartOfDayUTCTime converts the date to 00:00 in timezone, expressed in UTC.
func (t *MyDateString) StartOfDayUTCTime(timezone string) error {
	if t == nil {
		return nil
	}
	location, err := utils.LoadLocation(timezone)
	if err != nil {
		return err
	}
	d := time.Time(*t)
	*t = MyDateString(time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, location).UTC())
	return nil
}

// EndOfDayUTCTime converts the date to the last nanosecond of the day in timezone, expressed in UTC.
func (t *MyDateString) EndOfDayUTCTime(timezone string) error {
	if t == nil {
		return nil
	}
	location, err := utils.LoadLocation(timezone)
	if err != nil {
		return err
	}
	d := time.Time(*t)
	*t = MyDateString(time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 999999999, location).UTC())
	return nil
}

func (t MyDateString) Time() time.Time {
	return time.Time(t)
}

// DateRange is an inclusive [From, To] filter in factory local days.
type DateRange struct {
	From *MyDateString
	To   *MyDateString
}

// Bounds returns UTC instants for the range. Nil ends stay nil.
func (r DateRange) Bounds(timezone string) (*time.Time, *time.Time, error) {
	var from, to *time.Time
	if r.From != nil {
		f := *r.From
		if err := f.StartOfDayUTCTime(timezone); err != nil {
			return nil, nil, err
		}
		ft := f.Time()
		from = &ft
	}
	if r.To != nil {
		tt := *r.To
		if err := tt.EndOfDayUTCTime(timezone); err != nil {
			return nil, nil, err
		}
		tv := tt.Time()
		to = &tv
	}
	if from != nil && to != nil && from.After(*to) {
		return nil, nil, utils.NewValidationError("from date must not be after to date")
	}
	return from, to, nil
}

// DateBounds returns inclusive bounds for calendar date columns, which hold midnight UTC.
func (r DateRange) DateBounds() (*time.Time, *time.Time, error) {
	var from, to *time.Time
	if r.From != nil {
		f := NormalizeDate(r.From.Time())
		from = &f
	}
	if r.To != nil {
		t := NormalizeDate(r.To.Time())
		to = &t
	}
	if from != nil && to != nil && from.After(*to) {
		return nil, nil, utils.NewValidationError("from date must not be after to date")
	}
	return from, to, nil
}

// NormalizeDate stores business dates as midnight UTC of the given calendar day.
func NormalizeDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

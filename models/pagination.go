package models

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

type PageInfo struct {
	EndCursor   string `json:"end_cursor"`
	HasNextPage bool   `json:"has_next_page"`
}

// Page is a cursor-paginated list response.
type Page[T any] struct {
	Items    []*T     `json:"items"`
	PageInfo PageInfo `json:"page_info"`
}

// CompositeCursor identifies a row by (date, id).
type CompositeCursor interface {
	GetCursorTime() time.Time
	GetId() int
}

func EncodeCompositeCursor(t time.Time, id int) string {
	cursor := fmt.Sprintf("%s|%d", t.UTC().Format(time.RFC3339Nano), id)
	return base64.StdEncoding.EncodeToString([]byte(cursor))
}

func DecodeCompositeCursor(cursor string) (*time.Time, int, error) {
	if cursor == "" {
		return nil, 0, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid cursor")
	}
	parts := strings.Split(string(decoded), "|")
	if len(parts) != 2 {
		return nil, 0, fmt.Errorf("invalid cursor")
	}
	t, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return nil, 0, fmt.Errorf("invalid cursor")
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, 0, fmt.Errorf("invalid cursor")
	}
	return &t, id, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageLimit
	}
	if limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}

// FetchPageCompositeCursor orders by (cursorColumn, id). cmpOperator ">" pages ascending, "<" descending.
func FetchPageCompositeCursor[T CompositeCursor](dbCtx *gorm.DB,
	limit int,
	after string,
	cursorColumn string,
	cmpOperator string,
) (*Page[T], error) {

	limit = normalizeLimit(limit)
	nodes := make([]*T, 0)

	if cmpOperator == ">" {
		dbCtx = dbCtx.Order(cursorColumn + ", id")
	} else {
		cmpOperator = "<"
		dbCtx = dbCtx.Order(cursorColumn + " DESC, id DESC")
	}

	cursorTime, cursorId, err := DecodeCompositeCursor(after)
	if err != nil {
		return nil, err
	}
	if cursorTime != nil {
		dbCtx = dbCtx.Where(
			// [1] = column, [2] = operator
			fmt.Sprintf("(%[1]s %[2]s ? OR (%[1]s = ? AND id %[2]s ?))", cursorColumn, cmpOperator),
			*cursorTime, *cursorTime, cursorId)
	}

	if err := dbCtx.Limit(limit + 1).Find(&nodes).Error; err != nil {
		return nil, err
	}

	page := Page[T]{Items: nodes}
	if len(nodes) > limit {
		page.Items = nodes[:limit]
		page.PageInfo.HasNextPage = true
	}
	if n := len(page.Items); n > 0 {
		last := *page.Items[n-1]
		page.PageInfo.EndCursor = EncodeCompositeCursor(last.GetCursorTime(), last.GetId())
	}
	return &page, nil
}

package utils

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	ErrorRecordNotFound = errors.New("record not found")
	ErrorDuplicate      = errors.New("duplicate record")
	ErrorUnauthorized   = errors.New("unauthorized")
	ErrorForbidden      = errors.New("permission denied")
	ErrorFactoryIdEmpty = errors.New("factory id is required")
	ErrorBusy           = errors.New("another operation is in progress, try again")
)

// ValidationError carries per-field messages; handlers reply 422 with it.
type ValidationError struct {
	Fields map[string]string
	Msg    string
}

func (e *ValidationError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func NewValidationError(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func NewFieldError(field string, msg string) error {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// DuplicateError wraps ErrorDuplicate with the offending column.
func DuplicateError(column string) error {
	return fmt.Errorf("%w: %s", ErrorDuplicate, column)
}

// FromValidator converts validator tag failures into a ValidationError.
func FromValidator(err error) error {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return err
	}
	return &ValidationError{Fields: ProcessValidationErrors(ves)}
}

// NormalizeDBError maps driver specific errors onto the package sentinels.
func NormalizeDBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrorRecordNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrorDuplicate
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return DuplicateError(pgErr.ConstraintName)
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return DuplicateError(myErr.Message)
	}
	// sqlite (tests)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return DuplicateError(err.Error())
	}
	return err
}

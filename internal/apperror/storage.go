package apperror

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// UniqueViolation reports that a write collided with a unique index.
type UniqueViolation struct {
	Table string
	Err   error
}

func (e *UniqueViolation) Error() string {
	if e.Table == "" {
		return "unique constraint violated"
	}
	return "unique constraint violated on " + e.Table
}

func (e *UniqueViolation) Unwrap() error {
	return e.Err
}

// TranslateStorage converts a uniqueness failure reported by the database into
// a *UniqueViolation. Other errors are returned unchanged.
func TranslateStorage(table string, err error) error {
	if err == nil {
		return nil
	}
	var existing *UniqueViolation
	if errors.As(err, &existing) {
		return err
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueMessage(err) {
		return &UniqueViolation{Table: table, Err: err}
	}
	return err
}

// IsUniqueViolation reports whether err is, or wraps, a *UniqueViolation.
func IsUniqueViolation(err error) bool {
	var violation *UniqueViolation
	return errors.As(err, &violation)
}

// sqlite: "UNIQUE constraint failed", postgres: "duplicate key value violates unique constraint".
func isUniqueMessage(err error) bool {
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint")
}

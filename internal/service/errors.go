package service

import (
	"errors"
	"fmt"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrUserNotFound    = errors.New("user not found")
	ErrExpenseNotFound = errors.New("expense not found")
	// ErrNotAnExpense means free text carried no amount worth recording.
	ErrNotAnExpense = errors.New("message is not an expense")
)

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

package engine

import (
	"errors"
	"fmt"

	"github.com/Easycoder-lin/CHU-sub000/internal/models"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
)

// ValidationError rejects a write before the book is touched.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NotFoundError reports an unknown order or trade id within a book.
type NotFoundError struct {
	Kind    string
	ID      string
	Product models.ProductID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found in %s", e.Kind, e.ID, e.Product)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// InvalidStateError reports a transition from a state that does not allow it.
type InvalidStateError struct {
	Kind  string
	ID    string
	State string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s is %s", e.Kind, e.ID, e.State)
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

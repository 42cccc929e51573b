package models

import (
	"errors"
	"fmt"
)

// ErrProductReferenced is returned when deleting a product that historical lines still reference
var ErrProductReferenced = errors.New("product is referenced by existing records")

// ValidationError reports malformed input. No state was mutated.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a validation error for field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError reports a missing product, order or payment
type NotFoundError struct {
	Entity string
	ID     any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %v", e.Entity, e.ID)
}

// NewNotFoundError creates a not-found error
func NewNotFoundError(entity string, id any) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// InsufficientStockError reports a debit that would take stock negative
type InsufficientStockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: available=%d, requested=%d",
		e.ProductID, e.Available, e.Requested)
}

// StateError reports an operation not allowed in the aggregate's current status
type StateError struct {
	Entity string
	ID     int64
	Status string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s %d is %s", e.Entity, e.ID, e.Status)
}

// GatewayError reports a failed call to the payment gateway
type GatewayError struct {
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("payment gateway returned status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("payment gateway unavailable: %v", e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

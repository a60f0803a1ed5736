package services

import (
	"errors"
	"fmt"
)

// Sentinel errors for unresolvable references and not-found lookups.
var (
	ErrUserNotFound            = errors.New("user not found")
	ErrUserExists              = errors.New("user already exists")
	ErrInvalidCredentials      = errors.New("invalid email or password")
	ErrProductNotFound         = errors.New("product not found")
	ErrCategoryNotFound        = errors.New("category not found")
	ErrOrderNotFound           = errors.New("order not found")
	ErrOrderItemNotFound       = errors.New("order item not found")
	ErrAddressNotFound         = errors.New("address not found")
	ErrPaymentMethodNotFound   = errors.New("payment method not found")
	ErrPaymentMethodUnresolved = errors.New("payment method could not be resolved")
)

// ValidationError reports required request fields that were missing or
// malformed. It is raised before any persistence happens.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing or invalid fields: %v", e.Fields)
}

// InsufficientStockError identifies the first line, in request order, whose
// quantity exceeded the product's stock at the instant of decrement.
type InsufficientStockError struct {
	ProductID int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("Insufficient stock for product ID %d", e.ProductID)
}

// UnknownProductError identifies a checkout line referencing a product that
// does not exist.
type UnknownProductError struct {
	ProductID int64
}

func (e *UnknownProductError) Error() string {
	return fmt.Sprintf("Unknown product ID %d", e.ProductID)
}

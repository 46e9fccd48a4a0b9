package main

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrProductNotFound     = fmt.Errorf("product %w", ErrNotFound)
	ErrCartNotFound        = fmt.Errorf("cart %w", ErrNotFound)
	ErrCartLineNotFound    = fmt.Errorf("product %w in cart", ErrNotFound)
	ErrOrderNotFound       = fmt.Errorf("order %w", ErrNotFound)
	ErrEmptyCart           = errors.New("cart is empty, cannot checkout")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrConsistencyConflict = errors.New("concurrent stock update, re-validate and retry")
	ErrStorage             = errors.New("storage failure")
	ErrInvalidQuantity     = errors.New("quantity must be greater than 0")
	ErrInvalidProduct      = errors.New("invalid product")
)

// InsufficientStockError carrega o produto, o estoque atual e a quantidade pedida
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Available   int
	Requested   int
	// Conflict indica que a guarda do decremento disparou por causa de outro checkout concorrente
	Conflict bool
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q. Available: %d, Requested: %d", e.ProductName, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	if target == ErrInsufficientStock {
		return true
	}
	return e.Conflict && target == ErrConsistencyConflict
}

// storageError envolve falhas de infraestrutura para diferenciá-las dos erros de domínio
func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

package domain

import (
	"errors"
	"fmt"
)

// Error categories. Every domain error matches exactly one of these via errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrStateConflict     = errors.New("state conflict")
	ErrPersistence       = errors.New("persistence failed")
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrSchema            = errors.New("schema error")
)

// Error is a coded domain error belonging to one of the categories above.
type Error struct {
	Code    string
	Message string
	kind    error
}

func newError(kind error, code, message string) *Error {
	return &Error{Code: code, Message: message, kind: kind}
}

func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target is this error or its category.
func (e *Error) Is(target error) bool {
	return target == e || target == e.kind
}

var (
	ErrItemNotFound         = newError(ErrNotFound, "ITEM_NOT_FOUND", "item not found")
	ErrOrderNotFound        = newError(ErrNotFound, "ORDER_NOT_FOUND", "order not found")
	ErrItemNotInCart        = newError(ErrNotFound, "ITEM_NOT_IN_CART", "item not in cart")
	ErrOutOfStock           = newError(ErrStateConflict, "OUT_OF_STOCK", "item is out of stock")
	ErrQuantityExceedsStock = newError(ErrStateConflict, "QUANTITY_EXCEEDS_STOCK", "cart quantity already reaches available stock")
	ErrInsufficientStock    = newError(ErrStateConflict, "INSUFFICIENT_STOCK", "insufficient stock")
	ErrInvalidTransition    = newError(ErrStateConflict, "INVALID_TRANSITION", "invalid order status transition")
	ErrStockConflict        = newError(ErrStateConflict, "STOCK_CONFLICT", "stock no longer covers the order")
	ErrDuplicateRequest     = newError(ErrStateConflict, "DUPLICATE_REQUEST", "duplicate request")
	ErrEmptyCart            = newError(ErrValidation, "EMPTY_CART", "cart is empty")
	ErrNoValidItems         = newError(ErrValidation, "NO_VALID_ITEMS", "no cart line could be ordered")
	ErrInvalidContact       = newError(ErrValidation, "INVALID_CONTACT", "invalid contact info")
	ErrInvalidItem          = newError(ErrValidation, "INVALID_ITEM", "invalid item")
	ErrInvalidSession       = newError(ErrValidation, "INVALID_SESSION", "session id is required")
)

// MissingItemError names the item a catalog write could not find.
type MissingItemError struct {
	ItemID int64
}

func (e *MissingItemError) Error() string {
	return fmt.Sprintf("item %d not found", e.ItemID)
}

func (e *MissingItemError) Unwrap() error {
	return ErrItemNotFound
}

// StockError describes a stock shortfall for a single item.
type StockError struct {
	ItemID    int64
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %d: requested %d, available %d", e.ItemID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error {
	return ErrInsufficientStock
}

// CheckoutError is returned when no cart line survived validation.
type CheckoutError struct {
	Rejections []LineRejection
}

func (e *CheckoutError) Error() string {
	return fmt.Sprintf("no valid items: %d line(s) rejected", len(e.Rejections))
}

func (e *CheckoutError) Unwrap() error {
	return ErrNoValidItems
}

// Code returns the domain code carried by err, or "INTERNAL".
func Code(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	switch {
	case errors.Is(err, ErrPersistence):
		return "PERSISTENCE_ERROR"
	case errors.Is(err, ErrSourceUnavailable):
		return "SOURCE_UNAVAILABLE"
	case errors.Is(err, ErrSchema):
		return "SCHEMA_ERROR"
	}
	return "INTERNAL"
}

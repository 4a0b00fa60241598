package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the ledger service.
var (
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrAccountNotFound       = errors.New("account not found")
	ErrMCPNotFound           = errors.New("mcp not found")
	ErrPartnerNotFound       = errors.New("partner not found")
	ErrOrderNotFound         = errors.New("order not found")
	ErrNotificationNotFound  = errors.New("notification not found")
	ErrAlreadySettled        = errors.New("order already settled")
	ErrOrderCancelled        = errors.New("order cancelled")
	ErrOrderStatusConflict   = errors.New("order status conflict")
	ErrInvalidMCPID          = errors.New("invalid mcp id")
	ErrInvalidPartnerID      = errors.New("invalid partner id")
	ErrInvalidOrderID        = errors.New("invalid order id")
	ErrInvalidNotificationID = errors.New("invalid notification id")
	ErrInvalidName           = errors.New("invalid name")
	ErrInvalidAccountKind    = errors.New("invalid account kind")
	ErrInvalidTransaction    = errors.New("invalid transaction kind")
	ErrInvalidOrderStatus    = errors.New("invalid order status")
	ErrInvalidNotification   = errors.New("invalid notification kind")
	ErrInvalidMetadataJSON   = errors.New("invalid metadata json")
	ErrInvalidPage           = errors.New("invalid page")
	ErrInvalidDateRange      = errors.New("invalid date range")
	ErrInvalidServiceConfig  = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/pharmaflow/pharmaflow-backend/pkg/i18n"
)

// Standard error types
var (
	ErrNotFound     = errors.New("resource not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")
	ErrConflict     = errors.New("resource conflict")
	ErrInternal     = errors.New("internal server error")
	ErrValidation   = errors.New("validation error")
	ErrTransient    = errors.New("transient infrastructure failure")
)

// Stock ledger error taxonomy
var (
	ErrNegativeQuantity   = errors.New("quantity would become negative")
	ErrMissingLotNumber   = errors.New("lot number required")
	ErrLedgerIntegrity    = errors.New("ledger integrity violation")
	ErrSessionClosed      = errors.New("inventory session closed")
	ErrProductNotResolved = errors.New("product not resolved")
	ErrDuplicateLotLine   = errors.New("duplicate lot line")
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	MessageKey string            `json:"-"` // i18n key for localization
	Params     map[string]string `json:"-"` // Parameters for i18n interpolation
	Code       string            `json:"code"`
	StatusCode int               `json:"status_code"`
	Details    map[string]string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// Localize returns a localized version of the error message
func (e *AppError) Localize(ctx context.Context) string {
	if e.MessageKey == "" {
		return e.Message
	}
	return i18n.TFromContext(ctx, e.MessageKey, e.Params)
}

// New creates a new AppError
func New(code string, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, code string, message string, statusCode int) *AppError {
	return &AppError{
		Err:        err,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// WithDetails adds details to an AppError
func (e *AppError) WithDetails(details map[string]string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// Common error constructors

func NotFound(resource string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		MessageKey: "errors.not_found",
		Params:     map[string]string{"resource": resource},
		StatusCode: http.StatusNotFound,
	}
}

func Unauthorized(message string) *AppError {
	return &AppError{
		Err:        ErrUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    message,
		MessageKey: "errors.unauthorized",
		StatusCode: http.StatusUnauthorized,
	}
}

func Forbidden(message string) *AppError {
	return &AppError{
		Err:        ErrForbidden,
		Code:       "FORBIDDEN",
		Message:    message,
		MessageKey: "errors.forbidden",
		StatusCode: http.StatusForbidden,
	}
}

func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Code:       "BAD_REQUEST",
		Message:    message,
		MessageKey: "errors.bad_request",
		StatusCode: http.StatusBadRequest,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Code:       "CONFLICT",
		Message:    message,
		MessageKey: "errors.conflict",
		StatusCode: http.StatusConflict,
	}
}

func Internal(message string) *AppError {
	return &AppError{
		Err:        ErrInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		MessageKey: "errors.internal",
		StatusCode: http.StatusInternalServerError,
	}
}

func Validation(details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Code:       "VALIDATION_ERROR",
		Message:    "validation failed",
		MessageKey: "errors.validation_failed",
		StatusCode: http.StatusBadRequest,
		Details:    details,
	}
}

// Transient marks an infrastructure failure that may succeed on retry
func Transient(err error) *AppError {
	return &AppError{
		Err:        fmt.Errorf("%w: %v", ErrTransient, err),
		Code:       "SERVICE_UNAVAILABLE",
		Message:    "temporary storage failure, retry later",
		MessageKey: "errors.transient",
		StatusCode: http.StatusServiceUnavailable,
	}
}

// Stock ledger constructors

// NegativeQuantity reports an operation that would drive a lot below zero
func NegativeQuantity(lotID string, before, delta int) *AppError {
	return &AppError{
		Err:        ErrNegativeQuantity,
		Code:       "NEGATIVE_QUANTITY",
		Message:    fmt.Sprintf("lot %s: %d - %d would be negative", lotID, before, delta),
		MessageKey: "errors.negative_quantity",
		Params:     map[string]string{"lot": lotID},
		StatusCode: http.StatusUnprocessableEntity,
		Details: map[string]string{
			"lot_id":   lotID,
			"quantity": fmt.Sprint(before),
			"delta":    fmt.Sprint(delta),
		},
	}
}

// MissingLotNumber reports a reception line without a lot number while generation is disabled
func MissingLotNumber(lineIndex int, productID string) *AppError {
	return &AppError{
		Err:        ErrMissingLotNumber,
		Code:       "MISSING_LOT_NUMBER",
		Message:    fmt.Sprintf("line %d: lot number required for product %s", lineIndex, productID),
		MessageKey: "errors.missing_lot_number",
		Params:     map[string]string{"line": fmt.Sprint(lineIndex)},
		StatusCode: http.StatusUnprocessableEntity,
		Details: map[string]string{
			"line_index": fmt.Sprint(lineIndex),
			"product_id": productID,
		},
	}
}

// LedgerIntegrity reports a mismatch between the lot counter and its last movement.
// It requires manual reconciliation and must never be retried.
func LedgerIntegrity(lotID string, expected, actual int) *AppError {
	return &AppError{
		Err:        ErrLedgerIntegrity,
		Code:       "LEDGER_INTEGRITY",
		Message:    fmt.Sprintf("lot %s: ledger says %d, lot says %d", lotID, expected, actual),
		MessageKey: "errors.ledger_integrity",
		Params:     map[string]string{"lot": lotID},
		StatusCode: http.StatusConflict,
		Details: map[string]string{
			"lot_id":          lotID,
			"ledger_quantity": fmt.Sprint(expected),
			"lot_quantity":    fmt.Sprint(actual),
		},
	}
}

// SessionClosed reports a write attempted on a completed inventory session
func SessionClosed(sessionID string) *AppError {
	return &AppError{
		Err:        ErrSessionClosed,
		Code:       "SESSION_CLOSED",
		Message:    fmt.Sprintf("inventory session %s is completed", sessionID),
		MessageKey: "errors.session_closed",
		StatusCode: http.StatusConflict,
		Details:    map[string]string{"session_id": sessionID},
	}
}

// ProductNotResolved reports a product the catalog cannot resolve
func ProductNotResolved(lineIndex int, productID string) *AppError {
	return &AppError{
		Err:        ErrProductNotResolved,
		Code:       "PRODUCT_NOT_RESOLVED",
		Message:    fmt.Sprintf("line %d: product %s not found in catalog", lineIndex, productID),
		MessageKey: "errors.product_not_resolved",
		Params:     map[string]string{"product": productID},
		StatusCode: http.StatusUnprocessableEntity,
		Details: map[string]string{
			"line_index": fmt.Sprint(lineIndex),
			"product_id": productID,
		},
	}
}

// DuplicateLotLine reports two lines of one reception targeting the same lot with conflicting data
func DuplicateLotLine(productID, lotNumber string, lines ...int) *AppError {
	return &AppError{
		Err:        ErrDuplicateLotLine,
		Code:       "DUPLICATE_LOT_LINE",
		Message:    fmt.Sprintf("product %s lot %s appears on lines %v with different expiry or cost", productID, lotNumber, lines),
		MessageKey: "errors.duplicate_lot_line",
		Params:     map[string]string{"lot": lotNumber},
		StatusCode: http.StatusUnprocessableEntity,
		Details: map[string]string{
			"product_id": productID,
			"lot_number": lotNumber,
			"lines":      fmt.Sprint(lines),
		},
	}
}

// InvalidCount reports a negative or otherwise unusable counted quantity
func InvalidCount(itemID string, counted int) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Code:       "INVALID_COUNT",
		Message:    fmt.Sprintf("item %s: counted quantity %d must not be negative", itemID, counted),
		MessageKey: "errors.invalid_count",
		StatusCode: http.StatusBadRequest,
		Details: map[string]string{
			"item_id":  itemID,
			"quantity": fmt.Sprint(counted),
		},
	}
}

// IsRetryable reports whether err is worth retrying. Validation and integrity
// errors never are.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Is checks if the error matches a target error
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As attempts to convert an error to a specific type
func As(err error, target any) bool {
	return errors.As(err, target)
}

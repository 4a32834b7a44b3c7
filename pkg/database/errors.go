package database

import (
	"context"
	"database/sql/driver"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/lib/pq"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
)

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error or has no dedicated mapping.
func MapPQError(err error) *errors.AppError {
	var pqErr *pq.Error
	if !stderrors.As(err, &pqErr) {
		return nil
	}

	switch pqErr.Code {
	// Check constraint violation
	case "23514":
		return mapCheckConstraint(pqErr)

	// Unique constraint violation
	case "23505":
		return errors.Conflict(formatConstraintMessage(pqErr))

	// Foreign key violation
	case "23503":
		return errors.BadRequest("referenced record does not exist")

	// Not null violation
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	default:
		return nil
	}
}

func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "quantity_remaining_nonnegative"):
		e := errors.New("NEGATIVE_QUANTITY", "lot quantity would become negative", http.StatusUnprocessableEntity)
		e.Err = errors.ErrNegativeQuantity
		e.MessageKey = "errors.negative_quantity"
		return e

	case strings.Contains(constraint, "quantity_counted_nonnegative"):
		return errors.Validation(map[string]string{
			"quantity_counted": "must not be negative",
		})

	case strings.Contains(constraint, "movement_arithmetic"):
		e := errors.New("LEDGER_INTEGRITY", "movement quantities do not add up", http.StatusConflict)
		e.Err = errors.ErrLedgerIntegrity
		e.MessageKey = "errors.ledger_integrity"
		return e

	case strings.Contains(constraint, "status_valid"):
		return errors.Validation(map[string]string{
			"status": "unknown status value",
		})

	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}

func formatConstraintMessage(pqErr *pq.Error) string {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "lots_lot_number"):
		return "a lot with this number already exists for the product"
	case strings.Contains(constraint, "inventory_items_session"):
		return "the session already holds an item for this product and lot"
	case strings.Contains(constraint, "stock_alerts"):
		return "an open alert already exists for this lot"
	default:
		return "a record with these values already exists"
	}
}

// IsTransient reports whether err is an infrastructure failure worth retrying:
// serialization failures, deadlocks, dropped connections, expired sessions.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.IsRetryable(err) {
		return true
	}

	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "40001", pqErr.Code == "40P01":
			return true
		// connection exceptions, admin shutdown, cannot connect now
		case strings.HasPrefix(string(pqErr.Code), "08"),
			pqErr.Code == "57P01", pqErr.Code == "57P02", pqErr.Code == "57P03":
			return true
		// invalid authorization, e.g. a rotated or expired credential
		case pqErr.Code == "28000", pqErr.Code == "28P01":
			return true
		}
		return false
	}

	return isConnectionError(err)
}

// NeedsReconnect reports whether the pool should be refreshed before retrying.
func NeedsReconnect(err error) bool {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		code := string(pqErr.Code)
		return strings.HasPrefix(code, "08") || strings.HasPrefix(code, "28") || strings.HasPrefix(code, "57P")
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	if stderrors.Is(err, context.Canceled) {
		return false
	}
	if stderrors.Is(err, driver.ErrBadConn) || stderrors.Is(err, io.ErrUnexpectedEOF) ||
		stderrors.Is(err, syscall.ECONNRESET) || stderrors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr)
}

// MapError turns a raw storage error into the AppError callers should see.
// AppErrors pass through unchanged; unknown errors are returned as is.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if mapped := MapPQError(err); mapped != nil {
		return mapped
	}
	if IsTransient(err) {
		return errors.Transient(err)
	}
	return err
}

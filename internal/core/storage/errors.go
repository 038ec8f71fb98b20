// Package storage classifies database errors so callers can tell a permanent
// failure from an outage that is worth retrying.
package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/frahmantamala/checkout-payments/internal"
)

// IsUnavailable reports whether err means the database could not serve the
// request at all (connection loss, timeout, shutdown, resource exhaustion,
// serialization conflicts).
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), // connection exception
			strings.HasPrefix(pgErr.Code, "53"),  // insufficient resources
			strings.HasPrefix(pgErr.Code, "57P"), // operator intervention
			pgErr.Code == "40001",                // serialization_failure
			pgErr.Code == "40P01":                // deadlock_detected
			return true
		}
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// Classify wraps outage errors as UNAVAILABLE app errors and returns others unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if IsUnavailable(err) {
		return internal.NewUnavailableError("storage unavailable", err)
	}
	return err
}

// NotFoundOr maps gorm.ErrRecordNotFound to notFound and classifies everything else.
func NotFoundOr(err error, notFound error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound
	}
	return Classify(err)
}

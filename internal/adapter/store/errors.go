package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/lib/pq"

	"github.com/arturoeanton/go-repoflow/internal/port"
)

// Postgres error codes and classes the store distinguishes.
const (
	codeUniqueViolation  pq.ErrorCode  = "23505"
	codeAdminShutdown    pq.ErrorCode  = "57P01"
	codeCannotConnectNow pq.ErrorCode  = "57P03"
	classConnection      pq.ErrorClass = "08"
)

// classify wraps err as a *port.DatabaseError with its category. Context
// cancellation passes through unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &port.DatabaseError{Op: op, Category: categoryOf(err), Err: err}
}

func categoryOf(err error) port.DBCategory {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == codeUniqueViolation:
			return port.DBDuplicate
		case pqErr.Code.Class() == classConnection,
			pqErr.Code == codeAdminShutdown,
			pqErr.Code == codeCannotConnectNow:
			return port.DBConnection
		}
		return port.DBOther
	}

	var netErr net.Error
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr):
		return port.DBConnection
	}
	return port.DBOther
}

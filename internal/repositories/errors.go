package repositories

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"net"

	"github.com/juju/errors"
	"github.com/lib/pq"
)

var (
	ErrMessageNotFound = errors.ConstError("message not found")
	ErrChatNotFound    = errors.ConstError("chat not found")
	// ErrTransient marks a store failure worth retrying: a dropped
	// connection, a serialization failure or a deadlock.
	ErrTransient = errors.ConstError("transient store failure")
)

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func (e *transientError) Is(target error) bool {
	return target == ErrTransient
}

// Transient wraps err so errors.Is(err, ErrTransient) holds.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// classify tags retryable driver errors as transient and passes the rest through.
func classify(err error) error {
	if err == nil || errors.Is(err, sql.ErrNoRows) || errors.Is(err, ErrTransient) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return Transient(err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		// connection exception, transaction rollback, insufficient resources
		case "08", "40", "53":
			return Transient(err)
		}
		if pqErr.Code == "57P01" {
			return Transient(err)
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient(err)
	}
	return err
}

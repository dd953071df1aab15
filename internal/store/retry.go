package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"taskboard/api/internal/ordering"
)

const (
	readAttempts = 3
	readBackoff  = 50 * time.Millisecond
)

// retryRead runs a read up to readAttempts times, waiting a little longer
// after each transient failure. A read that is still failing transiently when
// it gives up comes back as an *ordering.StoreError. Writes must never go
// through here.
func retryRead(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= readAttempts; attempt++ {
		if err = fn(ctx); err == nil || !isTransient(err) {
			return err
		}
		if attempt == readAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return unavailable("read", err)
		case <-time.After(time.Duration(attempt) * readBackoff):
		}
	}
	return unavailable("read", err)
}

func unavailable(op string, err error) error {
	var storeErr *ordering.StoreError
	if errors.As(err, &storeErr) {
		return err
	}
	return &ordering.StoreError{Op: op, Err: err}
}

// isTransient reports whether err came from the connection rather than from
// the query. Server errors are transient only for connection and
// serialization classes.
func isTransient(err error) bool {
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08":
			return true
		case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "57P01":
			return true
		}
		return false
	}
	return pgconn.SafeToRetry(err) || pgconn.Timeout(err) || isNetError(err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isNetError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}

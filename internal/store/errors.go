package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrUniqueViolation     = errors.New("unique constraint violation")
	ErrForeignKeyViolation = errors.New("foreign key violation")
	ErrUndefinedTable      = errors.New("undefined table")
	ErrTransient           = errors.New("transient storage failure")
)

// MapError wraps a driver error with a well-known sentinel when one applies.
// The original error stays reachable through errors.As.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
		case pgErr.Code == "23503":
			return fmt.Errorf("%w: %w", ErrForeignKeyViolation, err)
		case pgErr.Code == "42P01":
			return fmt.Errorf("%w: %w", ErrUndefinedTable, err)
		case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "55P03", pgErr.Code == "57014",
			strings.HasPrefix(pgErr.Code, "08"):
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
		return err
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}

// IsTransient reports whether err is worth retrying at a higher level.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(MapError(err), ErrTransient)
}

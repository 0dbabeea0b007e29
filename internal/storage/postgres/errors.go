package postgres

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xenking/storefront/internal/retry"
)

// throttleCodes are the SQLSTATEs of server-side contention: the statement
// did not take effect and a later attempt may succeed.
var throttleCodes = map[string]struct{}{
	"53300": {}, // too_many_connections
	"53400": {}, // configuration_limit_exceeded
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
}

// classify marks contention failures with retry.ErrThrottled so the retry
// policy picks them up. Other errors are returned unchanged.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	if _, ok := throttleCodes[pgErr.Code]; !ok {
		return err
	}
	return fmt.Errorf("%w: %w", retry.ErrThrottled, err)
}

package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

// retryOptions uses a short linear backoff (100ms, 200ms, 300ms) for
// transient lock errors raised when two processes share the database file.
func retryOptions(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Attempts(3),
		retry.Delay(100 * time.Millisecond),
		retry.MaxDelay(300 * time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isDatabaseLocked),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	}
}

func withRetry(ctx context.Context, fn func() error) error {
	return retry.Do(fn, retryOptions(ctx)...)
}

func isDatabaseLocked(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

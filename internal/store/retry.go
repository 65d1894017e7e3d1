package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketpulse/indicatorengine/internal/errs"
)

// WALRetrySchedule is the bounded backoff schedule (§6) for reads of
// recently-written data: writes through the append path may not be
// visible to PG-style reads for up to a few seconds.
var WALRetrySchedule = []time.Duration{
	0,
	200 * time.Millisecond,
	400 * time.Millisecond,
	600 * time.Millisecond,
	1000 * time.Millisecond,
	1500 * time.Millisecond,
}

// QueryWithWALRetry adapts a read fn, retrying on the WAL schedule while
// isRetryable reports the result as not-yet-visible. It returns
// errs.ErrTransientStore once the schedule is exhausted.
func QueryWithWALRetry[T any](ctx context.Context, op string, fn func(context.Context) (T, error), isRetryable func(T, error) bool) (T, error) {
	var last T
	var lastErr error

	for attempt, wait := range WALRetrySchedule {
		if wait > 0 {
			select {
			case <-ctx.Done():
				var zero T
				return zero, ctx.Err()
			case <-time.After(wait):
			}
		}

		val, err := fn(ctx)
		last, lastErr = val, err
		if !isRetryable(val, err) {
			return val, err
		}
		log.Warn().Str("op", op).Int("attempt", attempt+1).Msg("time_series_store.wal_retry")
	}

	return last, fmt.Errorf("%w: %s: exhausted WAL retry schedule: %v", errs.ErrTransientStore, op, lastErr)
}

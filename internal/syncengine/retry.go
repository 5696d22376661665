package syncengine

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// retryPerRecord wraps fn with policy-driven exponential backoff, generalizing
// the teacher's hardcoded graph.Client.calcBackoff into a configurable,
// per-record retry budget. fn should return retry.RetryableError(err) for
// transient failures and a bare error for terminal ones.
func retryPerRecord(ctx context.Context, policy SyncPolicy, fn func(ctx context.Context) error) error {
	base := policy.RetryBaseDelay
	if base <= 0 {
		base = time.Second
	}

	attempts := policy.RetryMaxAttempts
	if attempts <= 0 {
		attempts = 3
	}

	backoff, err := retry.NewExponential(base)
	if err != nil {
		return err
	}

	backoff = retry.WithMaxRetries(uint64(attempts), backoff)

	return retry.Do(ctx, backoff, fn)
}

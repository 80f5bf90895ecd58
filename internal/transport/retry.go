package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy decides how the request channel retries one call.
type RetryPolicy struct {
	MaxAttempts uint
	Backoff     time.Duration
	Retryable   func(method string, err error) bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: 500 * time.Millisecond, Retryable: IdempotentNetworkErrors}
}

// NoRetry is used for moves: a replayed attack could count as a second shot.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// IdempotentNetworkErrors retries connectivity failures of GET and DELETE only.
func IdempotentNetworkErrors(method string, err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if method != http.MethodGet && method != http.MethodDelete {
		return false
	}
	return IsNetwork(err)
}

func (p RetryPolicy) run(ctx context.Context, method string, op func() error) error {
	tries := p.MaxAttempts
	if tries == 0 {
		tries = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = func(string, error) bool { return false }
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		if err != nil && !retryable(method, err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Backoff)),
		backoff.WithMaxTries(tries),
	)
	return err
}

package redis

import (
	"context"
	"fmt"
	"time"
)

type RateLimiter struct {
	client *Client
}

func NewRateLimiter(client *Client) *RateLimiter {
	return &RateLimiter{client: client}
}

func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := r.client.Incr(ctx, key)
	if err != nil {
		return false, err
	}

	if count == 1 {
		err = r.client.Expire(ctx, key, window)
		if err != nil {
			return false, err
		}
	}

	if count > int64(limit) {
		return false, nil
	}

	return true, nil
}

// CallerOperationKey scopes a rate limit to one caller address and one
// HTTP operation, e.g. to throttle repeated BuyCredit/AddBlob calls from
// the same address.
func CallerOperationKey(callerAddr string, operation string) string {
	return fmt.Sprintf("rate_limit:%s:%s", callerAddr, operation)
}

package rate

import "errors"

var (
	// ErrRateLimited is returned when the failed sign-in budget of an email or
	// client IP is spent.
	ErrRateLimited = errors.New("too many sign-in attempts")
	// ErrRedisUnavailable wraps Redis transport failures.
	ErrRedisUnavailable = errors.New("throttle store unavailable")
)

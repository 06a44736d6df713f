package http

import (
	"time"

	"golang.org/x/time/rate"
)

// newSendLimiter allows perMinute sends per minute with bursts up to the same amount.
// A non-positive limit disables limiting.
func newSendLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
}

package tracking

import "time"

// RateLimiter fires at most once per Interval of monotonic time, however
// often it is polled. The first poll always fires.
type RateLimiter struct {
	Interval time.Duration
	last     time.Time
	armed    bool
}

// NewRateLimiter returns a limiter that fires on its first poll.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	return &RateLimiter{Interval: interval}
}

// Ready reports whether the interval has elapsed since the last firing and,
// if so, records now as the new firing time.
func (r *RateLimiter) Ready(now time.Time) bool {
	if r.armed && now.Sub(r.last) < r.Interval {
		return false
	}
	r.last = now
	r.armed = true
	return true
}

// Force makes the next Ready call fire regardless of elapsed time.
func (r *RateLimiter) Force() {
	r.armed = false
}

package storage

import (
	"golang.org/x/time/rate"

	"sleepnet/internal/config"
)

// newLimiter creates the request limiter for a remote directory. Zero or
// negative settings fall back to 4 req/s with a burst of 8.
func newLimiter(h config.HTTPConfig) *rate.Limiter {
	rps := 4.0
	burst := 8
	if h.RPS > 0 {
		rps = h.RPS
	}
	if h.Burst > 0 {
		burst = h.Burst
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

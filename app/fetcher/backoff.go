package fetcher

import (
	"math/rand"
	"time"
)

const (
	backoffBase = 3 * time.Second
	backoffCap  = 90 * time.Second
)

// Backoff returns a full-jitter delay for the given 1-based attempt:
// uniform between the base and the capped exponential ceiling. Jitter keeps
// parallel fetch tasks from retrying in phase after a shared block.
func Backoff(attempt int) time.Duration {
	ceil := backoffBase << uint(attempt)
	if ceil > backoffCap || ceil <= 0 {
		ceil = backoffCap
	}
	if ceil <= backoffBase {
		return backoffBase
	}
	return backoffBase + time.Duration(rand.Int63n(int64(ceil-backoffBase)))
}

package ai

import (
	"math/rand"
	"time"
)

// shouldRetry is the whole retry policy: only transient failures are retried,
// and only while attempts remain. Terminal client errors (4xx, including 429),
// timeouts and cancellations never re-enter the loop.
func shouldRetry(class ErrorClass, attempt, maxAttempts int) bool {
	if attempt >= maxAttempts {
		return false
	}
	return class == ClassRetryable
}

// backoff returns the base delay plus random jitter in [0, base).
func backoff(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	return base + time.Duration(rand.Int63n(int64(base)))
}

package syncengine

import "time"

// maxBackoff caps a single delay.
const maxBackoff = time.Hour

// Backoff returns the wait after the retryCount-th consecutive failure:
// base * 2^(retryCount-1). retryCount is the already-incremented count.
func Backoff(base time.Duration, retryCount int) time.Duration {
	if retryCount < 1 {
		return 0
	}
	delay := time.Duration(1<<uint(retryCount-1)) * base
	if delay > maxBackoff || delay <= 0 {
		delay = maxBackoff
	}
	return delay
}

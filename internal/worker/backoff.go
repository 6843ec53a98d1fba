package worker

import "time"

// maxBackoff caps the delay between retries of one task.
const maxBackoff = 5 * time.Minute

// backoffDelay returns the delay before the next attempt after
// retryCount prior failures, doubling from base.
func backoffDelay(base time.Duration, retryCount int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

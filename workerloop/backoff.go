package workerloop

import (
	"math"
	"math/rand"
	"time"
)

const (
	backoffBase = 2 * time.Second
	backoffCap  = 5 * time.Minute
)

// ExponentialBackoff returns a delay of backoffBase * 2^attempt (2s, 4s,
// 8s, ...), capped at backoffCap, with up to 250ms of jitter to avoid every failed job in
// a batch waking at exactly the same instant.
func ExponentialBackoff(attempt int) time.Duration {
	d := time.Duration(float64(backoffBase) * math.Pow(2, float64(attempt)))
	if d > backoffCap {
		d = backoffCap
	}
	jitter := time.Duration(rand.Intn(250)) * time.Millisecond
	return d + jitter
}

package common

import "time"

const (
	backoffBase = 1 * time.Second
	backoffCap  = 30 * time.Second
)

// Backoff returns the delay before reconnect attempt retry (0-based):
// 1s, 2s, 4s, 8s, 16s, then capped at 30s. Callers reset retry to zero
// after a successful connection.
func Backoff(retry int) time.Duration {
	if retry < 0 {
		return 0
	}
	// Beyond 30 doublings the shift would overflow; the cap applies anyway.
	if retry > 30 {
		return backoffCap
	}
	d := backoffBase << uint(retry)
	if d > backoffCap {
		return backoffCap
	}
	return d
}

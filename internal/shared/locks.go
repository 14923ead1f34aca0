package shared

import "fmt"

// SweepLockKey is the redis key guarding the expiry sweep.
const SweepLockKey = "atelier:sweep:expiry:lock"

// ReminderKey builds the idempotency key for an expiry reminder so each
// deadline is announced once.
func ReminderKey(entity string, id int64, expiresAt int64) string {
	return fmt.Sprintf("reminder:%s:%d:%d", entity, id, expiresAt)
}

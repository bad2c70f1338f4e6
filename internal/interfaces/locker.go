package interfaces

import (
	"context"
	"time"
)

// Locker hands out short-lived exclusive leases keyed by name.
type Locker interface {
	// Acquire returns ok=false without error when another holder owns key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

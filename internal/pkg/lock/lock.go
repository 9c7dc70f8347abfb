// Package lock provides per-key mutual exclusion used to serialize work on a
// single subscription or customer.
package lock

import "context"

// Locker acquires an exclusive lock on key, blocking until it is held or ctx
// is done. The returned unlock func is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

func SubscriptionKey(id string) string { return "cashier:lock:subscription:" + id }

func CustomerKey(id string) string { return "cashier:lock:customer:" + id }

// Package cache provides a small size-bounded TTL cache.
package cache

import "time"

// Cache defines a generic cache interface
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T)
	Delete(key string)
	Size() int
}

// Clock returns the current time. Tests replace it to move time forward.
type Clock func() time.Time

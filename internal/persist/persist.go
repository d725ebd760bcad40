// Package persist is the durable storage behind the session and tenant stores.
// Records are JSON documents addressed by key.
package persist

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Load when no record exists for the key.
var ErrNotFound = errors.New("persist: record not found")

// Store loads, saves and deletes JSON records.
type Store interface {
	Load(ctx context.Context, key string, v any) error
	Save(ctx context.Context, key string, v any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

package storage

import "context"

// ObjectStore retrieves and stores raw document bytes and derived
// artifacts by bucket+key. Durability is the store's problem, not ours.
type ObjectStore interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	Ping(ctx context.Context) error
}

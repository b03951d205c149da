package storage

import "time"

// Provider is what the engine needs from a storage backend: listener-facing
// URLs for media objects. Uploads and transcoding happen in the workers.
type Provider interface {
	SignURL(bucket, key string, ttl time.Duration) (string, error)
	Exists(bucket, key string) (bool, error)
}

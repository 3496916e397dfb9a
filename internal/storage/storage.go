package storage

import "context"

// Archive persists raw webhook payloads for audit and replay. Keys are
// derived from the provider event id, content is the raw request body.
type Archive interface {
	Put(ctx context.Context, key string, body []byte) error
}

package storage

import (
	"context"
	"errors"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Storage is read access to uploaded objects. Uploads themselves happen
// outside this service.
type Storage interface {
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
}

// Package storage stores application attachments in a private object bucket
// and hands out time-limited signed URLs. Objects are never public.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// Bucket describes a bucket and its upload policy.
type Bucket struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Public           bool     `json:"public"`
	FileSizeLimit    int64    `json:"file_size_limit,omitempty"`
	AllowedMIMETypes []string `json:"allowed_mime_types,omitempty"`
}

// ObjectStore is the minimal object-storage surface FileStorage needs.
type ObjectStore interface {
	GetBucket(ctx context.Context, name string) (*Bucket, error)
	CreateBucket(ctx context.Context, bucket Bucket) error
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error
	Download(ctx context.Context, bucket, path string) ([]byte, string, error)
	CreateSignedURL(ctx context.Context, bucket, path string, expiresIn int) (string, error)
	Delete(ctx context.Context, bucket, path string) error
}

// Error kinds, matched with errors.Is.
var (
	ErrNotFound      = errors.New("storage: not found")
	ErrAlreadyExists = errors.New("storage: already exists")
	ErrRejected      = errors.New("storage: rejected")
	ErrUnavailable   = errors.New("storage: unavailable")
)

// Error carries the operation and remote status behind a storage failure.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Kind       error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("storage %s: %d %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("storage %s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Kind }

func newError(op string, kind error, msg string) *Error {
	return &Error{Op: op, Kind: kind, Message: msg}
}

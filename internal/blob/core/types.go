// Package core defines the blob storage abstraction shared by the archive
// and the concrete backends.
package core

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver identifies a concrete blob storage backend implementation.
type Driver string

const (
	DriverFilesystem Driver = "fs"     // local filesystem (default, dev)
	DriverS3         Driver = "s3"     // S3 / MinIO compatible
	DriverMemory     Driver = "memory" // in-memory (tests)
)

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Info describes a stored blob.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Store is a create-only object store. Keys are slash separated and relative.
type Store interface {
	// Put stores a new blob at key and fails with ErrExists if the key is taken.
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	// Get fails with ErrNotFound for a missing key.
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	// Delete returns (false, nil) if the key does not exist.
	Delete(ctx context.Context, key string) (bool, error)
	// List returns blobs whose key has prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

var (
	// ErrExists is wrapped by Put when the key is already stored.
	ErrExists = errors.New("blob already exists")
	// ErrNotFound is wrapped by Get and Head for a missing key.
	ErrNotFound = errors.New("blob not found")
)

// Package blobstore persists the relay's two sealed blobs: the encrypted
// state ("db") and the seal material ("sealdata").
//
// Backends: local filesystem, the filerunner HTTP service, S3, GCS (build tag
// gcp), Redis, PostgreSQL and SQLite. Every backend maps a missing blob to
// ErrNotFound and every transport or server failure to ErrUnavailable, so the
// persistence layer never mistakes an outage for empty state.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Well-known blob names.
const (
	BlobDB       = "db"
	BlobSealData = "sealdata"
)

var (
	// ErrNotFound means the store is reachable but holds no blob by that name.
	ErrNotFound = errors.New("blobstore: blob not found")
	// ErrUnavailable means the store could not be reached or answered with
	// malformed data. It is retryable.
	ErrUnavailable = errors.New("blobstore: store unavailable")
)

// Store is a named opaque blob store.
type Store interface {
	// Get retrieves the blob stored under name.
	Get(ctx context.Context, name string) ([]byte, error)
	// Put replaces the blob stored under name.
	Put(ctx context.Context, name string, data []byte) error
}

var validName = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidateName rejects names that are unsafe as file names, object keys or
// URL path segments.
func ValidateName(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("blobstore: invalid blob name %q", name)
	}
	return nil
}

func unavailable(op, name string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, op, name, err)
}

func notFound(name string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, name)
}

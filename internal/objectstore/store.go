// Package objectstore provides an abstraction over blob storage backends:
// raw uploads, extracted text, and per-job vector snapshots all live here,
// addressed by deterministic paths derived from document/job ids.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Common errors returned by ObjectStore implementations.
var (
	ErrNotFound      = errors.New("object not found")
	ErrAccessDenied  = errors.New("access denied")
	ErrBucketMissing = errors.New("bucket does not exist")
)

// ObjectAttrs contains metadata about a stored object.
type ObjectAttrs struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	ContentType  string
}

// PutOptions configures Put operation behavior.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// ObjectStore defines the interface for object storage operations.
// Implementations must be safe for concurrent use.
type ObjectStore interface {
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectAttrs, error)
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (etag string, err error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
}

// RawPath is the location of an uploaded file's original bytes.
func RawPath(documentID, filename string) string {
	return fmt.Sprintf("raw/%s/%s", documentID, filename)
}

// ExtractedPath is the location of a document's extracted text.
func ExtractedPath(documentID string) string {
	return fmt.Sprintf("extracted/%s.txt", documentID)
}

// SnapshotPath is the location of an embed job's columnar vector snapshot,
// written before the vector-index upsert so retries are idempotent.
func SnapshotPath(jobID string) string {
	return fmt.Sprintf("embeddings/%s.snapshot", jobID)
}

package domain

import (
	"context"
	"io"
)

// BlobObject is an object to upload. Metadata travels as object metadata
// (x-amz-meta-* on S3).
type BlobObject struct {
	Path        string
	Body        io.Reader
	ContentType string
	Metadata    map[string]string
}

// Blob is a downloaded object. The caller closes Body. Size is -1 when the
// store did not report it.
type Blob struct {
	Body     io.ReadCloser
	Size     int64
	Metadata map[string]string
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, obj BlobObject) error
	PutMultipart(ctx context.Context, obj BlobObject, partSize int64) error
}

// BlobReader retrieves data from object storage. Missing objects yield
// ErrNotFound.
type BlobReader interface {
	Get(ctx context.Context, path string) (Blob, error)
}

// BundleArchive stores finalize audit bundles.
type BundleArchive interface {
	PutBundle(ctx context.Context, bundle FinalizeBundle) (path string, err error)
	GetBundle(ctx context.Context, marketID string) (Blob, error)
}

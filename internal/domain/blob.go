package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage. The journal archiver is the
// only producer; it writes one JSONL object per archive pass.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

package s3blob

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/sealedsettle/internal/domain"
)

// minPartSize is the smallest part S3 accepts in a multipart upload.
const minPartSize int64 = 5 * 1024 * 1024

// Writer implements domain.BlobWriter on one bucket.
type Writer struct {
	client *s3.Client
	bucket string
}

var _ domain.BlobWriter = (*Writer)(nil)

func NewWriter(c *Client) *Writer {
	return &Writer{client: c.s3, bucket: c.bucket}
}

func (w *Writer) input(obj domain.BlobObject) *s3.PutObjectInput {
	return &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(obj.Path),
		Body:        obj.Body,
		ContentType: aws.String(obj.ContentType),
		Metadata:    obj.Metadata,
	}
}

// Put uploads obj with a single PutObject call.
func (w *Writer) Put(ctx context.Context, obj domain.BlobObject) error {
	if _, err := w.client.PutObject(ctx, w.input(obj)); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", obj.Path, err)
	}
	return nil
}

// PutMultipart streams obj through the transfer manager. partSize is raised
// to the S3 minimum.
func (w *Writer) PutMultipart(ctx context.Context, obj domain.BlobObject, partSize int64) error {
	uploader := manager.NewUploader(w.client, func(u *manager.Uploader) {
		u.PartSize = max(partSize, minPartSize)
	})
	if _, err := uploader.Upload(ctx, w.input(obj)); err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", obj.Path, err)
	}
	return nil
}

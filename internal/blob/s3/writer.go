package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// partSize is the upload part size. Payloads under it go up as a single
// PutObject; a month of archived rows can exceed it, at which point the
// uploader splits the stream into concurrent parts.
const partSize int64 = 8 * 1024 * 1024

// Writer implements BlobWriter on an S3-compatible backend.
type Writer struct {
	uploader *manager.Uploader
	bucket   string
}

var _ BlobWriter = (*Writer)(nil)

// NewWriter creates a Writer targeting the client's archive bucket.
func NewWriter(c *Client) *Writer {
	uploader := manager.NewUploader(c.S3(), func(u *manager.Uploader) {
		u.PartSize = partSize
	})
	return &Writer{
		uploader: uploader,
		bucket:   c.Bucket(),
	}
}

// Put uploads one object, streaming through the upload manager so the caller
// never has to care about the payload size.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	_, err := w.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", path, err)
	}
	return nil
}

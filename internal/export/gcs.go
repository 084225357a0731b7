package export

import (
	"context"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

var _ Uploader = (*GCSUploader)(nil)

// GCSUploader writes export files to Google Cloud Storage.
type GCSUploader struct {
	client *storage.Client
}

// NewGCSUploader creates an uploader authenticated with a service account key file.
func NewGCSUploader(ctx context.Context, keyFile string) (*GCSUploader, error) {
	if keyFile == "" {
		return nil, fmt.Errorf("gcs key file is required")
	}
	client, err := storage.NewClient(ctx, option.WithAuthCredentialsFile(option.ServiceAccount, keyFile))
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSUploader{client: client}, nil
}

// Upload implements Uploader.
func (u *GCSUploader) Upload(ctx context.Context, localPath string, target Target) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck

	w := u.client.Bucket(target.Bucket).Object(target.Key).NewWriter(ctx)
	w.ContentType = contentType(target.Key)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %s: %w", target, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize object %s: %w", target, err)
	}
	return nil
}

// Close releases the underlying client.
func (u *GCSUploader) Close() error {
	return u.client.Close()
}

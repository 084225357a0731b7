package export

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"querydeck/internal/config"
)

var _ Uploader = (*S3Uploader)(nil)

// S3Uploader puts export files into S3 or an S3-compatible store.
type S3Uploader struct {
	client *s3.Client
}

// NewS3Uploader creates an uploader from the S3 settings in cfg. A custom
// endpoint switches to path-style addressing.
func NewS3Uploader(cfg *config.Config) (*S3Uploader, error) {
	if !cfg.HasS3Config() {
		return nil, fmt.Errorf("S3 config is incomplete")
	}

	opts := s3.Options{
		Region: *cfg.S3Region,
		Credentials: credentials.NewStaticCredentialsProvider(
			*cfg.S3KeyID, *cfg.S3Secret, "",
		),
	}
	if cfg.S3Endpoint != nil {
		opts.BaseEndpoint = aws.String(fmt.Sprintf("https://%s", *cfg.S3Endpoint))
		opts.UsePathStyle = true
	}
	return &S3Uploader{client: s3.New(opts)}, nil
}

// Upload implements Uploader.
func (u *S3Uploader) Upload(ctx context.Context, localPath string, target Target) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(target.Bucket),
		Key:         aws.String(target.Key),
		Body:        f,
		ContentType: aws.String(contentType(target.Key)),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", target, err)
	}
	return nil
}

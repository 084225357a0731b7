package export

import (
	"context"
	"fmt"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

var _ Uploader = (*AzureUploader)(nil)

// AzureUploader writes export files to Azure Blob Storage using shared-key
// credentials.
type AzureUploader struct {
	client *azblob.Client
}

// NewAzureUploader creates an uploader for the given storage account.
func NewAzureUploader(accountName, accountKey string) (*AzureUploader, error) {
	if accountName == "" || accountKey == "" {
		return nil, fmt.Errorf("azure account name and key are required")
	}
	cred, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("create shared key credential: %w", err)
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net", accountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure blob client: %w", err)
	}
	return &AzureUploader{client: client}, nil
}

// Upload implements Uploader.
func (u *AzureUploader) Upload(ctx context.Context, localPath string, target Target) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck

	if _, err := u.client.UploadFile(ctx, target.Bucket, target.Key, f, nil); err != nil {
		return fmt.Errorf("upload blob %s: %w", target, err)
	}
	return nil
}

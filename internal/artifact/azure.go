package artifact

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// AzureSource downloads the model from an Azure Blob Storage container
// using a shared key.
type AzureSource struct {
	client    *azblob.Client
	account   string
	container string
	blob      string
}

// NewAzureSource builds a blob client for account. serviceURL may be empty
// to use the public endpoint https://<account>.blob.core.windows.net.
func NewAzureSource(account, key, serviceURL, container, blob string) (*AzureSource, error) {
	credential, err := azblob.NewSharedKeyCredential(account, key)
	if err != nil {
		return nil, fmt.Errorf("azure credential: %w", err)
	}

	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net", account)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("azure client: %w", err)
	}

	return &AzureSource{client: client, account: account, container: container, blob: blob}, nil
}

func (s *AzureSource) Name() string {
	return fmt.Sprintf("azure:%s/%s/%s", s.account, s.container, s.blob)
}

func (s *AzureSource) Open(ctx context.Context) (io.ReadCloser, int64, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, s.blob, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("download failed: %w", err)
	}

	size := int64(-1)
	if resp.ContentLength != nil {
		size = *resp.ContentLength
	}
	return resp.Body, size, nil
}

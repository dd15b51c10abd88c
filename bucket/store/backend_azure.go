package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	st "github.com/AustralianCyberSecurityCentre/azul-dedup.git/settings"
)

var contentType = "binary/octet-stream"

// AzureBackend stores blobs in an Azure blob store container.
type AzureBackend struct {
	client        *azblob.Client // A reference to the initialised Azure blob store client
	containerName string         // Name of the container blobs will be stored in
}

// NewAzureBackend connects to the storage account given by conf.Endpoint, in the
// format: "https://<storage-account-name>.blob.core.windows.net/".
// With an access key a shared key credential is used, otherwise the default azure credential chain.
// conf.StorageAccount is optional, and if empty the name will be extracted from the endpoint.
func NewAzureBackend(ctx context.Context, conf st.DDStoreAzure) (*AzureBackend, error) {
	var client *azblob.Client
	if conf.AccessKey != "" {
		u, err := url.Parse(conf.Endpoint)
		if err != nil {
			return nil, err
		}
		// Azurite local storage emulator will be in format http://<ip>:<port>/<storage-account-name>/
		// therefore storageAccount must be set manually for Azurite support
		storeName := conf.StorageAccount
		if storeName == "" {
			storeName = strings.Split(u.Hostname(), ".")[0]
		}
		cred, err := azblob.NewSharedKeyCredential(storeName, conf.AccessKey)
		if err != nil {
			return nil, fmt.Errorf("failed to obtain a credential: %w", err)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(conf.Endpoint, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to obtain blobstore: %w", err)
		}
	} else {
		// requires AZURE_CLIENT_SECRET, AZURE_TENANT_ID, AZURE_CLIENT_ID or a managed identity
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to obtain a credential: %w", err)
		}
		client, err = azblob.NewClient(conf.Endpoint, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to obtain blobstore: %w", err)
		}
	}

	_, err := client.CreateContainer(ctx, conf.Container, nil)
	if err == nil {
		st.Logger.Info().Str("container", conf.Container).Msg("created container")
	} else if !bloberror.HasCode(err, bloberror.ResourceAlreadyExists, bloberror.ContainerAlreadyExists) {
		return nil, fmt.Errorf("create container %s: %w", conf.Container, err)
	}
	return &AzureBackend{client, conf.Container}, nil
}

func azureAccessError(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return fmt.Errorf("%w", &AccessError{msg: string(respErr.ErrorCode)})
	}
	return fmt.Errorf("%w", &AccessError{msg: fmt.Sprintf("%v", err)})
}

func (s *AzureBackend) Name() string { return "azure" }

func (s *AzureBackend) Put(ctx context.Context, name string, data []byte) error {
	options := &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: &contentType,
		},
	}
	_, err := s.client.UploadBuffer(ctx, s.containerName, name, data, options)
	if err != nil {
		return azureAccessError(err)
	}
	return nil
}

func (s *AzureBackend) Get(ctx context.Context, name string) ([]byte, error) {
	get, err := s.client.DownloadStream(ctx, s.containerName, name, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, fmt.Errorf("%w", &NotFoundError{})
		}
		return nil, azureAccessError(err)
	}
	retryReader := get.NewRetryReader(ctx, &blob.RetryReaderOptions{})
	defer retryReader.Close()
	data, err := io.ReadAll(retryReader)
	if err != nil {
		return nil, fmt.Errorf("%w", &ReadError{msg: fmt.Sprintf("%v", err)})
	}
	return data, nil
}

func (s *AzureBackend) Exists(ctx context.Context, name string) (bool, error) {
	c := s.client.ServiceClient().NewContainerClient(s.containerName).NewBlobClient(name)
	_, err := c.GetProperties(ctx, &blob.GetPropertiesOptions{})
	if err == nil {
		return true, nil
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return false, nil
	}
	return false, azureAccessError(err)
}

func (s *AzureBackend) List(ctx context.Context, prefix string) ([]string, error) {
	ret := []string{}
	pager := s.client.NewListBlobsFlatPager(s.containerName, &azblob.ListBlobsFlatOptions{Prefix: &prefix})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, azureAccessError(err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				ret = append(ret, *item.Name)
			}
		}
	}
	return ret, nil
}

func (s *AzureBackend) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteBlob(ctx, s.containerName, name, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil
		}
		return azureAccessError(err)
	}
	return nil
}

func (s *AzureBackend) Close() error { return nil }

package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/jittakal/kafcsvconnect/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.FileSystem = (*AzureFileSystem)(nil)

// AzureConfig contains Azure Blob Storage configuration.
type AzureConfig struct {
	AccountName   string
	AccountKey    string
	ContainerName string
	Prefix        string
	Endpoint      string
}

// ConnectionString builds the shared-key connection string for the account.
func (cfg AzureConfig) ConnectionString() string {
	if cfg.Endpoint != "" {
		return fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;BlobEndpoint=%s",
			cfg.AccountName, cfg.AccountKey, cfg.Endpoint)
	}
	return fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;EndpointSuffix=core.windows.net",
		cfg.AccountName, cfg.AccountKey)
}

// AzureFileSystem implements storage.FileSystem on an Azure Blob container.
type AzureFileSystem struct {
	client        *azblob.Client
	containerName string
	prefix        string
	logger        *slog.Logger
	metrics       MetricsCollector
}

// NewAzureFileSystem creates a new Azure Blob file system.
func NewAzureFileSystem(cfg AzureConfig, logger *slog.Logger, metrics MetricsCollector) (*AzureFileSystem, error) {
	if cfg.ContainerName == "" {
		return nil, fmt.Errorf("azure container name is required")
	}

	client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	logger.Info("Azure file system created",
		"container", cfg.ContainerName,
		"account", cfg.AccountName,
		"prefix", cfg.Prefix,
	)

	return &AzureFileSystem{
		client:        client,
		containerName: cfg.ContainerName,
		prefix:        cfg.Prefix,
		logger:        logger,
		metrics:       metrics,
	}, nil
}

// Open opens the blob at p for reading.
func (a *AzureFileSystem) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	resp, err := a.client.DownloadStream(ctx, a.containerName, objectKey(a.prefix, p), nil)
	if err != nil {
		return nil, storageError(a.metrics, BackendAzure, "open", p, err)
	}
	return resp.Body, nil
}

// Create returns a writer that streams into a block blob upload.
func (a *AzureFileSystem) Create(ctx context.Context, p string) (io.WriteCloser, error) {
	pr, pw := io.Pipe()
	w := &pipeUpload{pw: pw, done: make(chan error, 1)}

	go func() {
		start := time.Now()
		_, err := a.client.UploadStream(ctx, a.containerName, objectKey(a.prefix, p), pr, nil)
		if err != nil {
			pr.CloseWithError(err)
			w.done <- storageError(a.metrics, BackendAzure, "upload", p, err)
			return
		}
		if a.metrics != nil {
			a.metrics.ObserveStorageOperationDuration(BackendAzure, "upload", time.Since(start).Seconds())
		}
		w.done <- nil
	}()
	return w, nil
}

// Exists reports whether a blob exists at p.
func (a *AzureFileSystem) Exists(ctx context.Context, p string) (bool, error) {
	blob := a.client.ServiceClient().
		NewContainerClient(a.containerName).
		NewBlobClient(objectKey(a.prefix, p))

	_, err := blob.GetProperties(ctx, nil)
	if err == nil {
		return true, nil
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return false, nil
	}
	return false, storageError(a.metrics, BackendAzure, "stat", p, err)
}

// Delete removes the blob at p.
func (a *AzureFileSystem) Delete(ctx context.Context, p string) error {
	if _, err := a.client.DeleteBlob(ctx, a.containerName, objectKey(a.prefix, p), nil); err != nil {
		return storageError(a.metrics, BackendAzure, "delete", p, err)
	}
	return nil
}

// Move streams src into dst and deletes src. It never replaces an existing dst.
func (a *AzureFileSystem) Move(ctx context.Context, src, dst string) error {
	start := time.Now()

	exists, err := a.Exists(ctx, dst)
	if err != nil {
		return err
	}
	if exists {
		return duplicateError(a.metrics, BackendAzure, dst)
	}

	body, err := a.Open(ctx, src)
	if err != nil {
		return err
	}
	defer body.Close()

	if _, err := a.client.UploadStream(ctx, a.containerName, objectKey(a.prefix, dst), body, nil); err != nil {
		return storageError(a.metrics, BackendAzure, "move", src, err)
	}
	if err := a.Delete(ctx, src); err != nil {
		return err
	}

	if a.metrics != nil {
		a.metrics.ObserveStorageOperationDuration(BackendAzure, "move", time.Since(start).Seconds())
	}
	return nil
}

// ListFileNames returns the names of blobs directly under dir.
func (a *AzureFileSystem) ListFileNames(ctx context.Context, dir string) ([]string, error) {
	prefix := dirPrefix(a.prefix, dir)
	pager := a.client.NewListBlobsFlatPager(a.containerName, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})

	var names []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, storageError(a.metrics, BackendAzure, "list", dir, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			name := strings.TrimPrefix(*item.Name, prefix)
			if name != "" && !strings.Contains(name, "/") {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

// Close closes the Azure file system.
func (a *AzureFileSystem) Close() error {
	a.logger.Info("Azure file system closed")
	return nil
}

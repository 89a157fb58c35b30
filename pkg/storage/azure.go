package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/sirupsen/logrus"

	"github.com/siqueiraa/kaflow-restructure/pkg/config"
)

// Azure stores blobs in one container under a name prefix.
type Azure struct {
	client    *azblob.Client
	container *container.Client
	name      string
	prefix    string
	tempDir   string
	logger    logrus.FieldLogger
}

// NewAzure authenticates with a connection string or a shared key.
func NewAzure(prefix string, cfg config.AzureConfig, tempDir string, logger logrus.FieldLogger) (*Azure, error) {
	var (
		client *azblob.Client
		err    error
	)
	switch {
	case cfg.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	case cfg.AccountName != "" && cfg.AccountKey != "":
		cred, credErr := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if credErr != nil {
			return nil, fmt.Errorf("azure credentials: %w", credErr)
		}
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(endpoint, cred, nil)
	default:
		return nil, errors.New("azure storage requires a connection string or account name and key")
	}
	if err != nil {
		return nil, fmt.Errorf("create azure client: %w", err)
	}

	return &Azure{
		client:    client,
		container: client.ServiceClient().NewContainerClient(cfg.Container),
		name:      cfg.Container,
		prefix:    strings.Trim(prefix, "/"),
		tempDir:   tempDir,
		logger:    logger.WithField("storage", "azure"),
	}, nil
}

func (a *Azure) blob(p string) string {
	return strings.TrimPrefix(path.Join(a.prefix, p), "/")
}

func (a *Azure) relative(name string) string {
	if a.prefix == "" {
		return name
	}
	return strings.TrimPrefix(strings.TrimPrefix(name, a.prefix), "/")
}

func (a *Azure) List(ctx context.Context, dir string) ([]FileStatus, error) {
	prefix := a.blob(dir)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var statuses []FileStatus
	pager := a.container.NewListBlobsHierarchyPager("/", &container.ListBlobsHierarchyOptions{
		Prefix: to.Ptr(prefix),
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", a.name, prefix, err)
		}
		for _, bp := range page.Segment.BlobPrefixes {
			statuses = append(statuses, FileStatus{
				Path:  a.relative(strings.TrimSuffix(deref(bp.Name), "/")),
				IsDir: true,
			})
		}
		for _, item := range page.Segment.BlobItems {
			status := FileStatus{Path: a.relative(deref(item.Name))}
			if item.Properties != nil {
				status.Size = deref(item.Properties.ContentLength)
				status.LastModified = deref(item.Properties.LastModified)
			}
			statuses = append(statuses, status)
		}
	}
	return statuses, nil
}

func (a *Azure) Status(ctx context.Context, p string) (*FileStatus, error) {
	props, err := a.container.NewBlobClient(a.blob(p)).GetProperties(ctx, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("properties of %s: %w", p, err)
	}
	return &FileStatus{
		Path:         p,
		Size:         deref(props.ContentLength),
		LastModified: deref(props.LastModified),
	}, nil
}

func (a *Azure) NewInput(ctx context.Context, p string) (io.ReadSeekCloser, error) {
	in, err := newTempInput(a.tempDir)
	if err != nil {
		return nil, err
	}
	if _, err := a.client.DownloadFile(ctx, a.name, a.blob(p), in.File, nil); err != nil {
		in.Close()
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, fmt.Errorf("download %s: %w", p, ErrNotFound)
		}
		return nil, fmt.Errorf("download %s: %w", p, err)
	}
	if _, err := in.Seek(0, io.SeekStart); err != nil {
		in.Close()
		return nil, err
	}
	return in, nil
}

func (a *Azure) NewReader(ctx context.Context, p string) (io.ReadCloser, error) {
	resp, err := a.client.DownloadStream(ctx, a.name, a.blob(p), nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return nil, fmt.Errorf("download %s: %w", p, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", p, err)
	}
	return resp.Body, nil
}

func (a *Azure) Store(ctx context.Context, localPath, p string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := a.client.UploadFile(ctx, a.name, a.blob(p), file, nil); err != nil {
		return fmt.Errorf("upload %s: %w", p, err)
	}
	a.logger.WithField("blob", a.blob(p)).Debug("stored blob")
	return nil
}

// Move streams the blob to its new name and deletes the original.
func (a *Azure) Move(ctx context.Context, oldPath, newPath string) error {
	resp, err := a.client.DownloadStream(ctx, a.name, a.blob(oldPath), nil)
	if err != nil {
		return fmt.Errorf("move %s: %w", oldPath, err)
	}
	defer resp.Body.Close()

	if _, err := a.client.UploadStream(ctx, a.name, a.blob(newPath), resp.Body, nil); err != nil {
		return fmt.Errorf("move %s to %s: %w", oldPath, newPath, err)
	}
	return a.Delete(ctx, oldPath)
}

func (a *Azure) Delete(ctx context.Context, p string) error {
	_, err := a.client.DeleteBlob(ctx, a.name, a.blob(p), nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("delete %s: %w", p, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", p, err)
	}
	return nil
}

// CreateDirectories is a no-op: blob names are flat.
func (a *Azure) CreateDirectories(context.Context, string) error {
	return nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

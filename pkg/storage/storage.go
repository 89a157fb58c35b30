// Package storage provides the byte-level drivers used to read source topic
// files and write restructured output: a local filesystem, S3 and Azure Blob.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/siqueiraa/kaflow-restructure/pkg/config"
)

// ErrNotFound is returned when a path does not exist.
var ErrNotFound = errors.New("path not found")

// FileStatus describes one entry of a listing.
type FileStatus struct {
	Path         string
	IsDir        bool
	Size         int64
	LastModified time.Time
}

// Storage is implemented by every driver. Paths are slash separated and
// relative to the driver root.
type Storage interface {
	// List returns the direct children of dir.
	List(ctx context.Context, dir string) ([]FileStatus, error)
	// Status returns nil without error if path does not exist.
	Status(ctx context.Context, path string) (*FileStatus, error)
	// NewInput opens a seekable stream over path.
	NewInput(ctx context.Context, path string) (io.ReadSeekCloser, error)
	NewReader(ctx context.Context, path string) (io.ReadCloser, error)
	// Store replaces path with the content of a local file.
	Store(ctx context.Context, localPath, path string) error
	Move(ctx context.Context, oldPath, newPath string) error
	Delete(ctx context.Context, path string) error
	CreateDirectories(ctx context.Context, dir string) error
}

// New builds the driver selected by cfg.Type.
func New(ctx context.Context, cfg config.StorageConfig, tempDir string, logger logrus.FieldLogger) (Storage, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocal(cfg.Path), nil
	case "s3":
		return NewS3(ctx, cfg.Path, cfg.S3, tempDir, logger)
	case "azure":
		return NewAzure(cfg.Path, cfg.Azure, tempDir, logger)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// tempInput is a downloaded copy of a remote object, removed on Close.
type tempInput struct {
	*os.File
}

func (t tempInput) Close() error {
	err := t.File.Close()
	if rmErr := os.Remove(t.Name()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
		err = rmErr
	}
	return err
}

func newTempInput(tempDir string) (tempInput, error) {
	f, err := os.CreateTemp(tempDir, "input-*.tmp")
	if err != nil {
		return tempInput{}, fmt.Errorf("create temp input: %w", err)
	}
	return tempInput{File: f}, nil
}

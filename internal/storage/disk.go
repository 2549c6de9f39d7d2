package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// DiskBackend stores blobs in a local directory. All file operations go
// through os.Root, so a storage name can never escape the directory.
type DiskBackend struct {
	root     *os.Root
	basePath string
}

// NewDiskBackend creates basePath if needed and opens it as the storage root.
func NewDiskBackend(basePath string) (*DiskBackend, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	root, err := os.OpenRoot(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage root: %w", err)
	}

	return &DiskBackend{
		root:     root,
		basePath: basePath,
	}, nil
}

func (d *DiskBackend) Save(ctx context.Context, r io.Reader, opts SaveOptions) (SaveResult, error) {
	name := NewStorageName(opts.OriginalFilename)

	file, err := d.root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return SaveResult{}, fmt.Errorf("failed to create file: %w", err)
	}

	buf := make([]byte, copyBufferSize)
	size, err := io.CopyBuffer(file, limitReader(r, opts.MaxSize), buf)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		d.root.Remove(name)
		if errors.Is(err, ErrFileTooLarge) {
			return SaveResult{}, ErrFileTooLarge
		}
		return SaveResult{}, fmt.Errorf("failed to write file: %w", err)
	}

	return SaveResult{Name: name, Size: size}, nil
}

func (d *DiskBackend) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	file, err := d.root.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Delete removes a blob. Returns nil if it doesn't exist.
func (d *DiskBackend) Delete(ctx context.Context, name string) error {
	if err := d.root.Remove(name); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (d *DiskBackend) Stat(ctx context.Context, name string) (FileInfo, error) {
	info, err := d.root.Stat(name)
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, ErrNotFound
		}
		return FileInfo{}, fmt.Errorf("failed to stat file: %w", err)
	}

	return FileInfo{
		Name:    name,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// HealthCheck verifies the storage directory is still reachable.
func (d *DiskBackend) HealthCheck(ctx context.Context) error {
	if _, err := d.root.Stat("."); err != nil {
		return fmt.Errorf("storage health check failed: %w", err)
	}
	return nil
}

func (d *DiskBackend) Close() error {
	return d.root.Close()
}

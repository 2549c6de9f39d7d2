package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"sync"

	"github.com/liamg/memoryfs"
)

// MemoryBackend keeps blobs in an in-memory filesystem. Used by tests and
// by STORAGE_BACKEND=memory for throwaway instances.
type MemoryBackend struct {
	fs *memoryfs.FS
	mu sync.RWMutex
	// failDelete makes Delete fail, for exercising cleanup error paths.
	failDelete error
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		fs: memoryfs.New(),
	}
}

func (m *MemoryBackend) Save(ctx context.Context, r io.Reader, opts SaveOptions) (SaveResult, error) {
	name := NewStorageName(opts.OriginalFilename)

	// memoryfs.WriteFile needs the whole content, so buffer it first.
	var buf bytes.Buffer
	copyBuf := make([]byte, copyBufferSize)
	size, err := io.CopyBuffer(&buf, limitReader(r, opts.MaxSize), copyBuf)
	if err != nil {
		if errors.Is(err, ErrFileTooLarge) {
			return SaveResult{}, ErrFileTooLarge
		}
		return SaveResult{}, fmt.Errorf("failed to read content: %w", err)
	}

	m.mu.Lock()
	err = m.fs.WriteFile(name, buf.Bytes(), 0644)
	m.mu.Unlock()
	if err != nil {
		return SaveResult{}, fmt.Errorf("failed to write file: %w", err)
	}

	return SaveResult{Name: name, Size: size}, nil
}

func (m *MemoryBackend) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	m.mu.RLock()
	content, err := m.fs.ReadFile(name)
	m.mu.RUnlock()
	if err != nil {
		if isNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return io.NopCloser(bytes.NewReader(content)), nil
}

// Delete removes a blob. Returns nil if it doesn't exist.
func (m *MemoryBackend) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete != nil {
		return m.failDelete
	}
	if err := m.fs.Remove(name); err != nil && !isNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (m *MemoryBackend) Stat(ctx context.Context, name string) (FileInfo, error) {
	m.mu.RLock()
	info, err := m.fs.Stat(name)
	m.mu.RUnlock()
	if err != nil {
		if isNotExist(err) {
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

// HealthCheck always succeeds; there is nothing external to reach.
func (m *MemoryBackend) HealthCheck(ctx context.Context) error {
	return nil
}

// FailDeletes makes every later Delete return err (nil restores normal behaviour).
func (m *MemoryBackend) FailDeletes(err error) {
	m.mu.Lock()
	m.failDelete = err
	m.mu.Unlock()
}

// Exists reports whether a blob is stored under name.
func (m *MemoryBackend) Exists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, err := m.fs.Stat(name)
	return err == nil
}

// FileCount returns the number of blobs currently stored.
func (m *MemoryBackend) FileCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	entries, err := m.fs.ReadDir(".")
	if err != nil {
		return 0
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			count++
		}
	}
	return count
}

func isNotExist(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	// memoryfs wraps errors, so check the error message
	errStr := err.Error()
	return strings.Contains(errStr, "file does not exist") ||
		strings.Contains(errStr, "no such file")
}

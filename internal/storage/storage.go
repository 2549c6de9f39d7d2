package storage

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no blob exists under the requested name.
	ErrNotFound = errors.New("file not found in storage")
	// ErrFileTooLarge is returned when an upload exceeds SaveOptions.MaxSize.
	ErrFileTooLarge = errors.New("file exceeds maximum allowed size")
)

// copyBufferSize is the buffer size used for file copies (8MB aligns with S3 multipart upload parts)
const copyBufferSize = 8 * 1024 * 1024

// maxExtLen bounds the extension carried over from the uploaded file name.
const maxExtLen = 16

// Backend stores uploaded blobs under opaque storage names. Implementations
// must be safe for concurrent use; Delete is idempotent.
type Backend interface {
	Save(ctx context.Context, r io.Reader, opts SaveOptions) (SaveResult, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Delete(ctx context.Context, name string) error
	Stat(ctx context.Context, name string) (FileInfo, error)
	HealthCheck(ctx context.Context) error
}

type SaveOptions struct {
	OriginalFilename string
	ContentType      string
	// MaxSize rejects the upload with ErrFileTooLarge once exceeded. Zero means no limit.
	MaxSize int64
}

type SaveResult struct {
	Name string // storage name, distinct from the user-facing file name
	Size int64
}

type FileInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// NewStorageName returns a random name for a blob that keeps the extension of
// the original file name, so downloads still get a sensible content type.
func NewStorageName(originalFilename string) string {
	ext := filepath.Ext(originalFilename)
	if len(ext) > maxExtLen {
		ext = ""
	}
	return uuid.New().String() + ext
}

// limitReader wraps r so that reading past max fails with ErrFileTooLarge.
func limitReader(r io.Reader, max int64) io.Reader {
	if max <= 0 {
		return r
	}
	return &limitedReader{reader: r, remaining: max}
}

// limitedReader tracks bytes read, erroring if limit is exceeded
type limitedReader struct {
	reader    io.Reader
	remaining int64
	done      bool
}

func (lr *limitedReader) Read(p []byte) (n int, err error) {
	if lr.done {
		return 0, io.EOF
	}

	if lr.remaining <= 0 {
		// Exactly at the limit: only an immediate EOF is acceptable.
		var probe [1]byte
		probeN, probeErr := lr.reader.Read(probe[:])
		if probeN > 0 {
			return 0, ErrFileTooLarge
		}
		if probeErr != nil && probeErr != io.EOF {
			return 0, probeErr
		}
		lr.done = true
		return 0, io.EOF
	}

	if int64(len(p)) > lr.remaining {
		p = p[:lr.remaining]
	}

	n, err = lr.reader.Read(p)
	lr.remaining -= int64(n)
	return n, err
}

package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/agjmills/swapshelf/internal/database/models"
	"github.com/agjmills/swapshelf/internal/metrics"
	"github.com/maruel/natural"
	"gorm.io/gorm"
)

// FileMeta describes an uploaded blob that is about to get a record.
type FileMeta struct {
	Name        string
	StorageName string
	Size        int64
}

type fileRecord struct {
	Name        string `validate:"required"`
	StorageName string `validate:"required"`
	Size        int64  `validate:"min=0"`
	Author      string `validate:"required"`
}

// FileOrder selects how a user's own files are listed.
type FileOrder int

const (
	FileOrderNewest FileOrder = iota
	FileOrderName
)

// ParseFileOrder maps the ?sort= query value to a FileOrder.
func ParseFileOrder(v string) FileOrder {
	if strings.EqualFold(v, "name") {
		return FileOrderName
	}
	return FileOrderNewest
}

// FileService manages file records. Blobs are written by the caller before
// Upload and removed by the Cleaner after Remove.
type FileService struct {
	db      *gorm.DB
	cleaner *Cleaner
	clock   Clock
}

func NewFileService(db *gorm.DB, cleaner *Cleaner, clock Clock) *FileService {
	return &FileService{db: db, cleaner: cleaner, clock: clock}
}

func (s *FileService) Upload(ctx context.Context, meta FileMeta, owner string) (*models.File, error) {
	rec := fileRecord{
		Name:        strings.TrimSpace(meta.Name),
		StorageName: meta.StorageName,
		Size:        meta.Size,
		Author:      owner,
	}
	if err := checkStruct(rec); err != nil {
		return nil, err
	}

	file := &models.File{
		Name:        rec.Name,
		StorageName: rec.StorageName,
		Size:        rec.Size,
		Author:      rec.Author,
		UploadDate:  s.clock.Now(),
	}
	if err := s.db.WithContext(ctx).Create(file).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, newError(ErrConflict, "Storage name already in use")
		}
		return nil, fmt.Errorf("failed to create file record: %w", err)
	}

	metrics.RecordFileUpload(file.Size)
	return file, nil
}

// FindOwned returns the file only if owner wrote it. A missing file and
// someone else's file both yield the same NotFound, so callers cannot probe
// for the existence of other users' files.
func (s *FileService) FindOwned(ctx context.Context, id uint, owner string) (*models.File, error) {
	var file models.File
	err := s.db.WithContext(ctx).Where("id = ? AND author = ?", id, owner).First(&file).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(ErrNotFound, msgFileNotFound)
		}
		return nil, fmt.Errorf("failed to load file %d: %w", id, err)
	}
	return &file, nil
}

// Remove deletes the record and returns once that is committed. Trade
// requests for the file and the blob itself are removed in the background.
func (s *FileService) Remove(ctx context.Context, id uint, actor string) error {
	file, err := s.FindOwned(ctx, id, actor)
	if err != nil {
		return err
	}

	res := s.db.WithContext(ctx).Where("id = ? AND author = ?", file.ID, actor).Delete(&models.File{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete file %d: %w", file.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		// Lost a race with another delete of the same file.
		return newError(ErrNotFound, msgFileNotFound)
	}

	metrics.RecordFileDelete()
	s.cleaner.RemoveFileArtifacts(file.ID, file.StorageName)
	return nil
}

// ListByAuthor returns every file written by username.
func (s *FileService) ListByAuthor(ctx context.Context, username string, order FileOrder) ([]models.File, error) {
	var files []models.File
	err := s.db.WithContext(ctx).
		Where("author = ?", username).
		Order("upload_date DESC, id DESC").
		Find(&files).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list files for %s: %w", username, err)
	}

	if order == FileOrderName {
		// Stable, so equal names keep newest-first order.
		slices.SortStableFunc(files, func(a, b models.File) int {
			an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name)
			switch {
			case natural.Less(an, bn):
				return -1
			case natural.Less(bn, an):
				return 1
			}
			return 0
		})
	}
	return files, nil
}

// ListAllPaged returns one page of every user's files, newest first.
func (s *FileService) ListAllPaged(ctx context.Context, pageSize, page int) (*Page[models.File], error) {
	query := s.db.Model(&models.File{}).Order("upload_date DESC, id DESC")
	return Paginate[models.File](ctx, query, pageSize, page)
}

// ResolveDownload finds the file stored under storageName. Downloads are
// public, so no ownership check applies.
func (s *FileService) ResolveDownload(ctx context.Context, storageName string) (*models.File, error) {
	var file models.File
	err := s.db.WithContext(ctx).Where("storage_name = ?", storageName).First(&file).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(ErrNotFound, msgFileNotFound)
		}
		return nil, fmt.Errorf("failed to resolve download %s: %w", storageName, err)
	}
	return &file, nil
}

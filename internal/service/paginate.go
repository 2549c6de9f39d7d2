package service

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Page is one slice of a paged listing. Page is 1-based and always within
// [1, Pages]; Pages is at least 1 even when Total is zero.
type Page[T any] struct {
	Page  int
	Pages int
	Total int64
	Items []T
}

// HasPrev reports whether a previous page exists.
func (p *Page[T]) HasPrev() bool { return p.Page > 1 }

// HasNext reports whether a following page exists.
func (p *Page[T]) HasNext() bool { return p.Page < p.Pages }

// PrevPage and NextPage are for templates, which cannot do arithmetic.
func (p *Page[T]) PrevPage() int { return p.Page - 1 }

func (p *Page[T]) NextPage() int { return p.Page + 1 }

// Paginate counts the rows matched by query and loads the requested page of
// them. Out of range pages are clamped rather than rejected. query must
// already carry its ordering.
func Paginate[T any](ctx context.Context, query *gorm.DB, pageSize, requested int) (*Page[T], error) {
	if pageSize < 1 {
		return nil, validationError("Items per page must be above 0")
	}

	var total int64
	if err := query.WithContext(ctx).Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count rows: %w", err)
	}

	page, pages, offset := pageBounds(total, pageSize, requested)
	items := make([]T, 0, pageSize)
	if total > 0 {
		err := query.WithContext(ctx).Session(&gorm.Session{}).
			Limit(pageSize).Offset(offset).Find(&items).Error
		if err != nil {
			return nil, fmt.Errorf("failed to load page %d: %w", page, err)
		}
	}

	return &Page[T]{Page: page, Pages: pages, Total: total, Items: items}, nil
}

func pageBounds(total int64, pageSize, requested int) (page, pages, offset int) {
	pages = int((total + int64(pageSize) - 1) / int64(pageSize))
	if pages < 1 {
		pages = 1
	}
	page = min(max(requested, 1), pages)
	return page, pages, (page - 1) * pageSize
}

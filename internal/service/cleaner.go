package service

import (
	"context"
	"sync"
	"time"

	"github.com/agjmills/swapshelf/internal/database/models"
	"github.com/agjmills/swapshelf/internal/logger"
	"github.com/agjmills/swapshelf/internal/metrics"
	"github.com/agjmills/swapshelf/internal/storage"
	"gorm.io/gorm"
)

const defaultCleanupTimeout = 30 * time.Second

// Cleaner removes what is left behind once a file record is gone: its trade
// requests and its blob. Each task runs detached from the request that caused
// it, exactly once. Failures go to the log and the cleanup failure counter;
// they are never retried and never reach the caller.
type Cleaner struct {
	db      *gorm.DB
	storage storage.Backend
	timeout time.Duration

	wg sync.WaitGroup
	// OnError is called for every failed step, after logging. Tests hook it.
	OnError func(kind string, err error)
}

func NewCleaner(db *gorm.DB, store storage.Backend) *Cleaner {
	return &Cleaner{
		db:      db,
		storage: store,
		timeout: defaultCleanupTimeout,
	}
}

// RemoveFileArtifacts starts the cascade for a deleted file and returns
// immediately.
func (c *Cleaner) RemoveFileArtifacts(fileID uint, storageName string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		res := c.db.WithContext(ctx).Where("file_id = ?", fileID).Delete(&models.TradeRequest{})
		if res.Error != nil {
			c.fail("trades", res.Error, "file_id", fileID)
		} else if res.RowsAffected > 0 {
			logger.Debug("removed trade requests for deleted file", "file_id", fileID, "count", res.RowsAffected)
		}

		if err := c.storage.Delete(ctx, storageName); err != nil {
			c.fail("blob", err, "file_id", fileID, "storage_name", storageName)
		}
	}()
}

// Wait blocks until every started task has finished.
func (c *Cleaner) Wait() {
	c.wg.Wait()
}

func (c *Cleaner) fail(kind string, err error, args ...any) {
	logger.Error("file cleanup failed", append([]any{"kind", kind, "error", err}, args...)...)
	metrics.RecordCleanupFailure(kind)
	if c.OnError != nil {
		c.OnError(kind, err)
	}
}

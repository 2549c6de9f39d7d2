package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agjmills/swapshelf/internal/database/models"
	"github.com/agjmills/swapshelf/internal/logger"
	"github.com/agjmills/swapshelf/internal/metrics"
	"github.com/alexedwards/scs/v2"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SessionRegistry keeps the user_sessions index: which session tokens belong
// to which user. Sessions themselves live in the scs store; the index only
// exists so they can be found and deleted per user. It is a best-effort
// cache: a missing row means a session that can no longer be invalidated
// early, never a broken login.
type SessionRegistry struct {
	db    *gorm.DB
	store scs.Store
	clock Clock
}

func NewSessionRegistry(db *gorm.DB, store scs.Store, clock Clock) *SessionRegistry {
	return &SessionRegistry{db: db, store: store, clock: clock}
}

// RecordLogin adds sessionID to the user's index.
func (r *SessionRegistry) RecordLogin(ctx context.Context, userID uint, sessionID string, meta models.UserSessionMeta) error {
	row := &models.UserSession{
		UserID:    userID,
		SessionID: sessionID,
		LoginDate: r.clock.Now(),
		Meta:      datatypes.NewJSONType(meta),
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to record session for user %d: %w", userID, err)
	}
	return nil
}

// InvalidateOthers ends every session of userID except exceptSessionID, as
// after a password change made from that session.
func (r *SessionRegistry) InvalidateOthers(ctx context.Context, userID uint, exceptSessionID string) (int, error) {
	return r.invalidate(ctx, userID, exceptSessionID, "password_change")
}

// InvalidateAll ends every session of userID, as after a password reset.
func (r *SessionRegistry) InvalidateAll(ctx context.Context, userID uint) (int, error) {
	return r.invalidate(ctx, userID, "", "password_reset")
}

// Forget drops the index rows for a session that has ended normally.
func (r *SessionRegistry) Forget(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&models.UserSession{}).Error; err != nil {
		return fmt.Errorf("failed to forget session: %w", err)
	}
	return nil
}

func (r *SessionRegistry) invalidate(ctx context.Context, userID uint, except, reason string) (int, error) {
	query := r.db.WithContext(ctx).Model(&models.UserSession{}).Where("user_id = ?", userID)
	if except != "" {
		query = query.Where("session_id <> ?", except)
	}

	var sessionIDs []string
	if err := query.Distinct("session_id").Pluck("session_id", &sessionIDs).Error; err != nil {
		return 0, fmt.Errorf("failed to list sessions for user %d: %w", userID, err)
	}

	var errs []error
	removed := make([]string, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		if err := r.deleteFromStore(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, id)
	}

	if len(removed) > 0 {
		err := r.db.WithContext(ctx).
			Where("user_id = ? AND session_id IN ?", userID, removed).
			Delete(&models.UserSession{}).Error
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to drop session index rows: %w", err))
		}
	}

	metrics.RecordSessionsInvalidated(reason, len(removed))
	logger.Info("sessions invalidated", "user_id", userID, "count", len(removed), "reason", reason)
	return len(removed), errors.Join(errs...)
}

// Prune reconciles the index with the session store. Rows older than maxAge
// belong to sessions past their lifetime and are dropped outright; the
// remaining rows are dropped when the store no longer knows their token
// (logged out, expired, or deleted by another process).
func (r *SessionRegistry) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := r.clock.Now().Add(-maxAge)
	res := r.db.WithContext(ctx).Where("login_date < ?", cutoff).Delete(&models.UserSession{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune old sessions: %w", res.Error)
	}
	pruned := res.RowsAffected

	var sessionIDs []string
	if err := r.db.WithContext(ctx).Model(&models.UserSession{}).Distinct("session_id").Pluck("session_id", &sessionIDs).Error; err != nil {
		return pruned, fmt.Errorf("failed to list indexed sessions: %w", err)
	}

	var stale []string
	for _, id := range sessionIDs {
		found, err := r.existsInStore(ctx, id)
		if err != nil {
			return pruned, err
		}
		if !found {
			stale = append(stale, id)
		}
	}

	if len(stale) > 0 {
		res := r.db.WithContext(ctx).Where("session_id IN ?", stale).Delete(&models.UserSession{})
		if res.Error != nil {
			return pruned, fmt.Errorf("failed to prune stale sessions: %w", res.Error)
		}
		pruned += res.RowsAffected
	}

	return pruned, nil
}

func (r *SessionRegistry) deleteFromStore(ctx context.Context, token string) error {
	var err error
	if cs, ok := r.store.(scs.CtxStore); ok {
		err = cs.DeleteCtx(ctx, token)
	} else {
		err = r.store.Delete(token)
	}
	if err != nil {
		return fmt.Errorf("failed to delete session from store: %w", err)
	}
	return nil
}

func (r *SessionRegistry) existsInStore(ctx context.Context, token string) (bool, error) {
	var found bool
	var err error
	if cs, ok := r.store.(scs.CtxStore); ok {
		_, found, err = cs.FindCtx(ctx, token)
	} else {
		_, found, err = r.store.Find(token)
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up session in store: %w", err)
	}
	return found, nil
}

// Pruner runs Prune on a fixed interval until Shutdown.
type Pruner struct {
	registry *SessionRegistry
	interval time.Duration
	maxAge   time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// StartPruner launches the background prune loop.
func (r *SessionRegistry) StartPruner(interval, maxAge time.Duration) *Pruner {
	p := &Pruner{
		registry: r,
		interval: interval,
		maxAge:   maxAge,
		stopChan: make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Shutdown stops the prune loop and waits for a running prune to finish.
func (p *Pruner) Shutdown() {
	p.once.Do(func() {
		close(p.stopChan)
	})
	p.wg.Wait()
}

func (p *Pruner) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			logger.Info("session prune worker stopping")
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), p.interval)
			n, err := p.registry.Prune(ctx, p.maxAge)
			cancel()
			if err != nil {
				logger.Error("session prune failed", "error", err)
				continue
			}
			logger.Debug("session index pruned", "removed", n)
		}
	}
}

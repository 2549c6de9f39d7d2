package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/agjmills/swapshelf/internal/database/models"
	"github.com/agjmills/swapshelf/internal/metrics"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	msgTradeNotFound    = "Trade not found"
	msgFileNotFound     = "File not found"
	msgTradeDuplicate   = "You already sent this trade request"
	msgTradeSelf        = "Cannot send trade request to myself"
	msgCannotDecide     = "This user cannot decide this trade"
	msgDecideNotPending = "It's only possible to decide pending requests"
	msgInvalidDecision  = "Invalid decision"
	msgCannotCancel     = "This user cannot cancel this trade"
	msgCancelNotPending = "It's only possible to cancel pending requests"
)

// TradeService runs the trade request lifecycle. A request starts Pending and
// moves exactly once, to Canceled by its sender or to Accepted/Rejected by the
// file's author.
type TradeService struct {
	db    *gorm.DB
	clock Clock
}

func NewTradeService(db *gorm.DB, clock Clock) *TradeService {
	return &TradeService{db: db, clock: clock}
}

// Send asks the author of fileID to share it with from.
func (s *TradeService) Send(ctx context.Context, fileID uint, from string) (*models.TradeRequest, error) {
	var file models.File
	if err := s.db.WithContext(ctx).First(&file, fileID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(ErrNotFound, msgFileNotFound)
		}
		return nil, fmt.Errorf("failed to load file %d: %w", fileID, err)
	}

	if from == "" {
		return nil, validationError("From username is required")
	}
	if from == file.Author {
		return nil, validationError(msgTradeSelf)
	}

	trade := &models.TradeRequest{
		FileID:    file.ID,
		From:      from,
		To:        file.Author,
		Status:    models.TradePending,
		CreatedAt: s.clock.Now(),
	}
	// The unique index on (file, from, to) is the only duplicate guard.
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(trade).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, newError(ErrConflict, msgTradeDuplicate)
		}
		return nil, fmt.Errorf("failed to create trade request: %w", err)
	}
	trade.File = &file

	metrics.RecordTradeTransition(string(models.TradePending))
	return trade, nil
}

// Decide lets the file's author accept or reject a pending request. Checks
// run in a fixed order: existence, actor, state, then the decision itself.
func (s *TradeService) Decide(ctx context.Context, requestID uint, actor string, decision models.TradeStatus) (*models.TradeRequest, error) {
	trade, err := s.find(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if trade.To != actor {
		return nil, newError(ErrForbidden, msgCannotDecide)
	}
	if trade.Status.Terminal() {
		return nil, newError(ErrInvalidState, msgDecideNotPending)
	}
	if decision != models.TradeAccepted && decision != models.TradeRejected {
		return nil, validationError(msgInvalidDecision)
	}

	if err := s.transition(ctx, trade, decision, msgDecideNotPending); err != nil {
		return nil, err
	}
	return trade, nil
}

// Cancel lets the sender withdraw a pending request.
func (s *TradeService) Cancel(ctx context.Context, requestID uint, actor string) (*models.TradeRequest, error) {
	trade, err := s.find(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if trade.From != actor {
		return nil, newError(ErrForbidden, msgCannotCancel)
	}
	if trade.Status.Terminal() {
		return nil, newError(ErrInvalidState, msgCancelNotPending)
	}

	if err := s.transition(ctx, trade, models.TradeCanceled, msgCancelNotPending); err != nil {
		return nil, err
	}
	return trade, nil
}

// ListForUser returns the user's outgoing requests that are still relevant
// (Pending or Accepted) and the incoming requests waiting for a decision,
// newest first. Requests whose file is already gone are left out.
func (s *TradeService) ListForUser(ctx context.Context, username string) (outgoing, incoming []models.TradeRequest, err error) {
	err = s.db.WithContext(ctx).
		InnerJoins("File").
		Where("trade_requests.from_user = ? AND trade_requests.status IN ?", username,
			[]models.TradeStatus{models.TradePending, models.TradeAccepted}).
		Order("trade_requests.created_at DESC, trade_requests.id DESC").
		Find(&outgoing).Error
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list outgoing trades: %w", err)
	}

	err = s.db.WithContext(ctx).
		InnerJoins("File").
		Where("trade_requests.to_user = ? AND trade_requests.status = ?", username, models.TradePending).
		Order("trade_requests.created_at DESC, trade_requests.id DESC").
		Find(&incoming).Error
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list incoming trades: %w", err)
	}

	return outgoing, incoming, nil
}

// StatusByFile reports, for each of fileIDs, the status of the request from
// has sent for it. Files without a request are absent from the map.
func (s *TradeService) StatusByFile(ctx context.Context, from string, fileIDs []uint) (map[uint]models.TradeStatus, error) {
	statuses := make(map[uint]models.TradeStatus, len(fileIDs))
	if from == "" || len(fileIDs) == 0 {
		return statuses, nil
	}

	var trades []models.TradeRequest
	err := s.db.WithContext(ctx).
		Select("file_id", "status").
		Where("from_user = ? AND file_id IN ?", from, fileIDs).
		Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load trade statuses: %w", err)
	}
	for _, t := range trades {
		statuses[t.FileID] = t.Status
	}
	return statuses, nil
}

func (s *TradeService) find(ctx context.Context, id uint) (*models.TradeRequest, error) {
	var trade models.TradeRequest
	if err := s.db.WithContext(ctx).First(&trade, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(ErrNotFound, msgTradeNotFound)
		}
		return nil, fmt.Errorf("failed to load trade request %d: %w", id, err)
	}
	return &trade, nil
}

// transition moves a Pending request to status. The update only matches while
// the row is still Pending, so a concurrent transition leaves it untouched.
func (s *TradeService) transition(ctx context.Context, trade *models.TradeRequest, status models.TradeStatus, conflictMsg string) error {
	res := s.db.WithContext(ctx).
		Model(&models.TradeRequest{}).
		Where("id = ? AND status = ?", trade.ID, models.TradePending).
		Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("failed to update trade request %d: %w", trade.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return newError(ErrInvalidState, conflictMsg)
	}

	trade.Status = status
	metrics.RecordTradeTransition(string(status))
	return nil
}

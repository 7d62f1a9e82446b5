package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"updown-trading-go/internal/models"
	"updown-trading-go/internal/prices"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrInvalidTrade is returned when an open request fails validation.
	ErrInvalidTrade = errors.New("invalid trade")
	// ErrInsufficientBalance is returned when the stake exceeds the balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrNotActive is returned when a mutation targets a trade that already
	// reached a terminal state.
	ErrNotActive = errors.New("trade is not active")
)

// ExpiryScheduler receives lifecycle signals from the service so expiry timers
// track trade creation and cancellation.
type ExpiryScheduler interface {
	Schedule(ctx context.Context, trade *models.Trade)
	Cancel(tradeID uint)
}

// OpenRequest describes a new up/down bet.
type OpenRequest struct {
	UserID           uint            `json:"user_id"`
	Asset            string          `json:"asset"`
	Direction        string          `json:"direction"`
	Amount           decimal.Decimal `json:"amount"`
	ProfitPercentage decimal.Decimal `json:"profit_percentage"`
	Duration         int64           `json:"duration"`
}

// Service owns the trade lifecycle mutations outside of settlement: opening a
// trade (which deducts the stake), admin cancellation (which refunds it), and
// the admin outcome override.
type Service struct {
	logger    *zap.Logger
	db        *gorm.DB
	prices    prices.ClientInterface
	scheduler ExpiryScheduler
}

// NewService creates a new trade lifecycle service.
func NewService(logger *zap.Logger, db *gorm.DB, priceClient prices.ClientInterface, scheduler ExpiryScheduler) *Service {
	return &Service{
		logger:    logger,
		db:        db,
		prices:    priceClient,
		scheduler: scheduler,
	}
}

// OpenTrade snapshots the entry price, deducts the stake from the user's
// balance and persists the trade in the active state, all in one transaction.
// The expiry timer is registered once the row is committed.
func (s *Service) OpenTrade(ctx context.Context, req OpenRequest) (*models.Trade, error) {
	if req.Direction != models.DirectionUp && req.Direction != models.DirectionDown {
		return nil, fmt.Errorf("%w: unknown direction %q", ErrInvalidTrade, req.Direction)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidTrade)
	}
	if req.ProfitPercentage.IsNegative() {
		return nil, fmt.Errorf("%w: profit percentage must not be negative", ErrInvalidTrade)
	}
	if req.Duration <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrInvalidTrade)
	}

	entryPrice, err := s.prices.GetCurrentPrice(ctx, req.Asset)
	if err != nil {
		return nil, fmt.Errorf("entry price for %s: %w", req.Asset, err)
	}

	now := time.Now()
	trade := &models.Trade{
		Ref:              uuid.NewString(),
		UserID:           req.UserID,
		Asset:            req.Asset,
		EntryPrice:       entryPrice,
		Direction:        req.Direction,
		Amount:           req.Amount,
		ProfitPercentage: req.ProfitPercentage,
		Duration:         req.Duration,
		EndTime:          now.Add(time.Duration(req.Duration) * time.Second),
		Status:           models.StatusActive,
	}
	trade.CreatedAt = now // keep end_time == created_at + duration exact

	err = s.db.Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, req.UserID).Error; err != nil {
			return fmt.Errorf("load user %d: %w", req.UserID, err)
		}
		if user.Balance.LessThan(req.Amount) {
			return fmt.Errorf("%w: balance %s, stake %s", ErrInsufficientBalance, user.Balance, req.Amount)
		}
		if err := tx.Model(&user).Update("balance", user.Balance.Sub(req.Amount)).Error; err != nil {
			return fmt.Errorf("deduct stake: %w", err)
		}
		return tx.Create(trade).Error
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Trade opened",
		zap.Uint("trade_id", trade.ID),
		zap.Uint("user_id", trade.UserID),
		zap.String("asset", trade.Asset),
		zap.String("direction", trade.Direction),
		zap.String("amount", trade.Amount.String()),
		zap.Time("end_time", trade.EndTime),
	)

	if s.scheduler != nil {
		s.scheduler.Schedule(ctx, trade)
	}
	return trade, nil
}

// Cancel transitions an active trade to cancelled and refunds the stake. The
// conditional update races fairly with a concurrent settle: whichever commits
// first wins and the loser is a no-op.
func (s *Service) Cancel(ctx context.Context, tradeID uint) error {
	var trade models.Trade
	if err := s.db.First(&trade, tradeID).Error; err != nil {
		return fmt.Errorf("load trade %d: %w", tradeID, err)
	}

	cancelled := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Trade{}).
			Where("id = ? AND status = ?", tradeID, models.StatusActive).
			Update("status", models.StatusCancelled)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		cancelled = true

		var user models.User
		if err := tx.First(&user, trade.UserID).Error; err != nil {
			return fmt.Errorf("load user %d: %w", trade.UserID, err)
		}
		return tx.Model(&user).Update("balance", user.Balance.Add(trade.Amount)).Error
	})
	if err != nil {
		return fmt.Errorf("cancel trade %d: %w", tradeID, err)
	}
	if !cancelled {
		return fmt.Errorf("cancel trade %d: %w", tradeID, ErrNotActive)
	}

	if s.scheduler != nil {
		s.scheduler.Cancel(tradeID)
	}

	s.logger.Info("Trade cancelled, stake refunded",
		zap.Uint("trade_id", tradeID), zap.Uint("user_id", trade.UserID))
	return nil
}

// SetPredeterminedResult records an admin override that forces the trade's
// outcome at settlement. Only allowed while the trade is still active.
func (s *Service) SetPredeterminedResult(ctx context.Context, tradeID uint, result string) error {
	if result != models.ResultWin && result != models.ResultLose {
		return fmt.Errorf("%w: unknown result %q", ErrInvalidTrade, result)
	}

	res := s.db.Model(&models.Trade{}).
		Where("id = ? AND status = ?", tradeID, models.StatusActive).
		Update("predetermined_result", result)
	if res.Error != nil {
		return fmt.Errorf("override trade %d: %w", tradeID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("override trade %d: %w", tradeID, ErrNotActive)
	}

	s.logger.Info("Predetermined result set",
		zap.Uint("trade_id", tradeID), zap.String("result", result))
	return nil
}

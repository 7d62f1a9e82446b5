package settlement

import (
	"context"
	"fmt"
	"time"

	"updown-trading-go/internal/models"
	"updown-trading-go/internal/notify"
	"updown-trading-go/internal/prices"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Coordinator drives the active -> completed transition for a trade and
// applies the balance effect as one atomic unit.
type Coordinator struct {
	logger    *zap.Logger
	db        *gorm.DB
	prices    prices.ClientInterface
	publisher notify.Publisher
}

// NewCoordinator creates a new settlement coordinator.
func NewCoordinator(logger *zap.Logger, db *gorm.DB, priceClient prices.ClientInterface, publisher notify.Publisher) *Coordinator {
	return &Coordinator{
		logger:    logger,
		db:        db,
		prices:    priceClient,
		publisher: publisher,
	}
}

// Settle resolves the trade's outcome and applies it. It is idempotent: a
// trade that already reached a terminal state is a no-op, which also resolves
// races between duplicate timer fires and admin cancellation. Safe to call
// manually by an operator for recovery.
func (c *Coordinator) Settle(ctx context.Context, tradeID uint) error {
	var trade models.Trade
	if err := c.db.First(&trade, tradeID).Error; err != nil {
		return fmt.Errorf("load trade %d: %w", tradeID, err)
	}

	if trade.Status != models.StatusActive {
		c.logger.Debug("Trade already terminal, nothing to settle",
			zap.Uint("trade_id", trade.ID), zap.String("status", trade.Status))
		return nil
	}

	// The price fetch is skipped entirely when an admin predetermined the
	// outcome.
	var referencePrice decimal.Decimal
	if trade.PredeterminedResult == "" {
		price, err := c.prices.GetCurrentPrice(ctx, trade.Asset)
		if err != nil {
			return fmt.Errorf("reference price for trade %d: %w", trade.ID, err)
		}
		referencePrice = price
	}

	outcome, err := Evaluate(&trade, referencePrice)
	if err != nil {
		return fmt.Errorf("evaluate trade %d: %w", trade.ID, err)
	}

	closedAt := time.Now()
	settled := false

	err = c.db.Transaction(func(tx *gorm.DB) error {
		// Conditional update keyed on status and the override is the race
		// guard: whichever of settle, cancel or an admin override commits
		// first wins, the other touches zero rows. An override that landed
		// after our read makes this a no-op; the next sweep or a manual
		// settle re-reads it.
		res := tx.Model(&models.Trade{}).
			Where("id = ? AND status = ? AND predetermined_result = ?",
				trade.ID, models.StatusActive, trade.PredeterminedResult).
			Updates(map[string]any{
				"status":    models.StatusCompleted,
				"result":    outcome.Result,
				"closed_at": closedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		settled = true

		if outcome.PayoutDelta.IsPositive() {
			var user models.User
			if err := tx.First(&user, trade.UserID).Error; err != nil {
				return fmt.Errorf("load user %d: %w", trade.UserID, err)
			}
			newBalance := user.Balance.Add(outcome.PayoutDelta)
			if err := tx.Model(&user).Update("balance", newBalance).Error; err != nil {
				return fmt.Errorf("credit user %d: %w", trade.UserID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("settle trade %d: %w", trade.ID, err)
	}

	if !settled {
		c.logger.Info("Trade reached a terminal state concurrently, settle was a no-op",
			zap.Uint("trade_id", trade.ID))
		return nil
	}

	c.logger.Info("Trade settled",
		zap.Uint("trade_id", trade.ID),
		zap.Uint("user_id", trade.UserID),
		zap.String("result", outcome.Result),
		zap.String("payout", outcome.PayoutDelta.String()),
	)

	c.publisher.Publish(trade.UserID, notify.Event{
		TradeID: trade.ID,
		UserID:  trade.UserID,
		Result:  outcome.Result,
		Status:  models.StatusCompleted,
	})
	return nil
}

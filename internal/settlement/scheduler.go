package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"updown-trading-go/internal/config"
	"updown-trading-go/internal/models"
	"updown-trading-go/internal/prices"
	"updown-trading-go/internal/storage"

	"go.uber.org/zap"
)

// Scheduler guarantees that exactly one settlement attempt is triggered for
// each active trade at or after its end time. One timer per open trade; on
// startup a reconciliation sweep settles trades that expired while the process
// was down and re-registers timers for the rest.
type Scheduler struct {
	logger      *zap.Logger
	cfg         *config.Settlement
	repo        *storage.Repository
	coordinator *Coordinator

	mu     sync.Mutex
	timers map[uint]*time.Timer
	failed map[uint]struct{} // trades surfaced for manual resolution
}

// NewScheduler creates a new trade scheduler.
func NewScheduler(logger *zap.Logger, cfg *config.Settlement, repo *storage.Repository, coordinator *Coordinator) *Scheduler {
	return &Scheduler{
		logger:      logger,
		cfg:         cfg,
		repo:        repo,
		coordinator: coordinator,
		timers:      make(map[uint]*time.Timer),
		failed:      make(map[uint]struct{}),
	}
}

// Run starts the scheduler's main loop. It reconciles immediately, then sweeps
// periodically to pick up trades created while it was not watching. It blocks
// until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	if err := s.reconcile(ctx); err != nil {
		s.logger.Error("Startup reconciliation failed", zap.Error(err))
	}
	if err := s.sweep(ctx); err != nil {
		s.logger.Error("Initial sweep failed", zap.Error(err))
	}

	interval := time.Duration(s.cfg.SweepInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Scheduler started", zap.Duration("sweep_interval", interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping scheduler...")
			s.stopAll()
			return
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				s.logger.Error("Sweep failed", zap.Error(err))
			}
		}
	}
}

// reconcile settles trades that expired while the process was down. Their
// timers fire with zero delay.
func (s *Scheduler) reconcile(ctx context.Context) error {
	overdue, err := s.repo.GetOverdueTrades(time.Now())
	if err != nil {
		return fmt.Errorf("load overdue trades: %w", err)
	}
	if len(overdue) == 0 {
		return nil
	}

	s.logger.Info("Recovering trades that expired while the scheduler was down",
		zap.Int("count", len(overdue)))
	for i := range overdue {
		s.Schedule(ctx, &overdue[i])
	}
	return nil
}

// sweep registers a timer for every active trade not yet tracked. Trades whose
// end time already passed get a zero delay and fire at once.
func (s *Scheduler) sweep(ctx context.Context) error {
	trades, err := s.repo.GetActiveTrades()
	if err != nil {
		return fmt.Errorf("load active trades: %w", err)
	}

	active := make(map[uint]struct{}, len(trades))
	for i := range trades {
		active[trades[i].ID] = struct{}{}
		s.Schedule(ctx, &trades[i])
	}

	// Forget failed trades that reached a terminal state, e.g. through a
	// manual settle by an operator.
	s.mu.Lock()
	for id := range s.failed {
		if _, ok := active[id]; !ok {
			delete(s.failed, id)
		}
	}
	s.mu.Unlock()
	return nil
}

// Schedule registers the expiry timer for a trade. Idempotent per trade id;
// a trade already tracked or already surfaced as failed is skipped.
func (s *Scheduler) Schedule(ctx context.Context, trade *models.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.timers[trade.ID]; ok {
		return
	}
	if _, ok := s.failed[trade.ID]; ok {
		return
	}

	delay := time.Until(trade.EndTime)
	if delay < 0 {
		delay = 0
	}

	id := trade.ID
	s.timers[id] = time.AfterFunc(delay, func() {
		s.fire(ctx, id)
	})

	s.logger.Debug("Registered expiry timer",
		zap.Uint("trade_id", id), zap.Duration("delay", delay))
}

// Cancel stops the pending timer for a trade, if any. A timer that already
// fired is harmless: the coordinator's status guard makes the late settle a
// no-op.
func (s *Scheduler) Cancel(tradeID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.timers[tradeID]; ok {
		timer.Stop()
		delete(s.timers, tradeID)
	}
}

// TrackedCount returns the number of pending timers. Useful for testing.
func (s *Scheduler) TrackedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// fire triggers one settlement attempt. Fire-and-forget into the coordinator:
// the only automatic recovery is a single retry after a short backoff when the
// price feed was unavailable. Anything else is logged and left for an operator
// to settle manually through the ops API.
func (s *Scheduler) fire(ctx context.Context, tradeID uint) {
	defer func() {
		s.mu.Lock()
		delete(s.timers, tradeID)
		s.mu.Unlock()
	}()

	err := s.coordinator.Settle(ctx, tradeID)
	if err == nil {
		return
	}

	if errors.Is(err, prices.ErrUnavailable) {
		backoff := time.Duration(s.cfg.RetryBackoff) * time.Second
		s.logger.Warn("Reference price unavailable, retrying once",
			zap.Uint("trade_id", tradeID), zap.Duration("backoff", backoff))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}

		if err = s.coordinator.Settle(ctx, tradeID); err == nil {
			return
		}
	}

	s.mu.Lock()
	s.failed[tradeID] = struct{}{}
	s.mu.Unlock()

	s.logger.Error("Settlement failed, trade requires manual resolution",
		zap.Uint("trade_id", tradeID), zap.Error(err))
}

// stopAll cancels every pending timer.
func (s *Scheduler) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Trade directions.
const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

// Trade statuses. Completed and cancelled are terminal.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Trade results, set exactly once on the transition to completed.
const (
	ResultWin  = "win"
	ResultLose = "lose"
)

// Trade represents a single timed up/down bet on an asset's price movement.
type Trade struct {
	gorm.Model
	Ref              string          `gorm:"uniqueIndex;size:36" json:"ref"`
	UserID           uint            `gorm:"index" json:"user_id"`
	Asset            string          `gorm:"index;size:32" json:"asset"`
	EntryPrice       decimal.Decimal `gorm:"type:decimal(24,8)" json:"entry_price"`
	Direction        string          `gorm:"size:8" json:"direction"`
	Amount           decimal.Decimal `gorm:"type:decimal(24,8)" json:"amount"`
	ProfitPercentage decimal.Decimal `gorm:"type:decimal(8,2)" json:"profit_percentage"`
	Duration         int64           `json:"duration"` // seconds until expiry, fixed at creation
	EndTime          time.Time       `gorm:"index" json:"end_time"`
	Status           string          `gorm:"index;size:16" json:"status"`
	Result           string          `gorm:"size:8" json:"result,omitempty"`

	// PredeterminedResult forces the outcome irrespective of market price.
	// Settable only while the trade is still active.
	PredeterminedResult string `gorm:"size:8" json:"predetermined_result,omitempty"`

	ClosedAt *time.Time `json:"closed_at,omitempty"`
}

// IsTerminal reports whether the trade has reached a terminal status.
func (t *Trade) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusCancelled
}

// Expired reports whether the trade's end time has passed at the given instant.
func (t *Trade) Expired(now time.Time) bool {
	return !t.EndTime.After(now)
}

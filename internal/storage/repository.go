package storage

import (
	"time"

	"updown-trading-go/internal/models"

	"gorm.io/gorm"
)

// Repository wraps read access to trades and users. Mutations that must be
// atomic (settlement, cancellation, stake deduction) run their own gorm
// transactions and do not go through here.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Trades

func (r *Repository) GetTrade(id uint) (*models.Trade, error) {
	var trade models.Trade
	if err := r.db.First(&trade, id).Error; err != nil {
		return nil, err
	}
	return &trade, nil
}

func (r *Repository) GetTradeByRef(ref string) (*models.Trade, error) {
	var trade models.Trade
	if err := r.db.Where("ref = ?", ref).First(&trade).Error; err != nil {
		return nil, err
	}
	return &trade, nil
}

// GetActiveTrades returns every trade still awaiting settlement.
func (r *Repository) GetActiveTrades() ([]models.Trade, error) {
	var trades []models.Trade
	err := r.db.Where("status = ?", models.StatusActive).Find(&trades).Error
	return trades, err
}

// GetOverdueTrades returns active trades whose end time has already passed.
func (r *Repository) GetOverdueTrades(now time.Time) ([]models.Trade, error) {
	var trades []models.Trade
	err := r.db.Where("status = ? AND end_time <= ?", models.StatusActive, now).
		Find(&trades).Error
	return trades, err
}

func (r *Repository) GetTradesByUser(userID uint, limit int) ([]models.Trade, error) {
	var trades []models.Trade
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").Limit(limit).Find(&trades).Error
	return trades, err
}

func (r *Repository) GetRecentTrades(limit int) ([]models.Trade, error) {
	var trades []models.Trade
	err := r.db.Order("created_at DESC").Limit(limit).Find(&trades).Error
	return trades, err
}

// Users

func (r *Repository) GetUser(id uint) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

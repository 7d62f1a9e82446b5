package storage

import (
	"testing"
	"time"

	"updown-trading-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupRepo(t *testing.T) (*gorm.DB, *Repository) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Trade{}))
	return db, NewRepository(db)
}

func seedTrade(t *testing.T, db *gorm.DB, ref string, userID uint, status string, endTime time.Time) *models.Trade {
	trade := &models.Trade{
		Ref:        ref,
		UserID:     userID,
		Asset:      "ETHUSDT",
		EntryPrice: decimal.NewFromInt(3000),
		Direction:  models.DirectionUp,
		Amount:     decimal.NewFromInt(10),
		Duration:   60,
		EndTime:    endTime,
		Status:     status,
	}
	require.NoError(t, db.Create(trade).Error)
	return trade
}

func TestRepository_GetOverdueTrades(t *testing.T) {
	db, repo := setupRepo(t)
	now := time.Now()

	overdue := seedTrade(t, db, "a", 1, models.StatusActive, now.Add(-time.Minute))
	seedTrade(t, db, "b", 1, models.StatusActive, now.Add(time.Hour))
	seedTrade(t, db, "c", 1, models.StatusCompleted, now.Add(-time.Hour))
	seedTrade(t, db, "d", 2, models.StatusCancelled, now.Add(-time.Hour))

	trades, err := repo.GetOverdueTrades(now)
	require.NoError(t, err)

	require.Len(t, trades, 1)
	assert.Equal(t, overdue.ID, trades[0].ID)
}

func TestRepository_GetActiveTrades(t *testing.T) {
	db, repo := setupRepo(t)
	now := time.Now()

	seedTrade(t, db, "a", 1, models.StatusActive, now.Add(-time.Minute))
	seedTrade(t, db, "b", 2, models.StatusActive, now.Add(time.Hour))
	seedTrade(t, db, "c", 1, models.StatusCompleted, now)

	trades, err := repo.GetActiveTrades()
	require.NoError(t, err)
	assert.Len(t, trades, 2)
}

func TestRepository_GetTradeByRef(t *testing.T) {
	db, repo := setupRepo(t)

	seeded := seedTrade(t, db, "lookup-me", 5, models.StatusActive, time.Now())

	trade, err := repo.GetTradeByRef("lookup-me")
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, trade.ID)

	_, err = repo.GetTradeByRef("missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRepository_GetTradesByUserOrdersRecentFirst(t *testing.T) {
	db, repo := setupRepo(t)
	now := time.Now()

	older := seedTrade(t, db, "old", 9, models.StatusCompleted, now)
	older.CreatedAt = now.Add(-time.Hour)
	require.NoError(t, db.Save(older).Error)

	newer := seedTrade(t, db, "new", 9, models.StatusActive, now.Add(time.Hour))
	seedTrade(t, db, "other-user", 10, models.StatusActive, now)

	trades, err := repo.GetTradesByUser(9, 10)
	require.NoError(t, err)

	require.Len(t, trades, 2)
	assert.Equal(t, newer.ID, trades[0].ID)
	assert.Equal(t, older.ID, trades[1].ID)
}

package settlement

import (
	"context"
	"testing"
	"time"

	"updown-trading-go/internal/models"
	"updown-trading-go/internal/notify"
	"updown-trading-go/internal/prices"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// MockPriceClient is a mock implementation of the prices.ClientInterface.
type MockPriceClient struct {
	mock.Mock
}

func (m *MockPriceClient) GetCurrentPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	args := m.Called(asset)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

// setupTest creates a full test environment with a mock price client and
// in-memory DB.
func setupTest(t *testing.T) (*gorm.DB, *MockPriceClient, *notify.Hub, *Coordinator) {
	// Use a new, non-shared in-memory database for each test to ensure isolation.
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	// A second pooled connection would see its own empty memory database, so
	// keep the pool at one connection.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(&models.User{}, &models.Trade{})
	require.NoError(t, err)

	mockClient := new(MockPriceClient)
	hub := notify.NewHub(zap.NewNop())
	coordinator := NewCoordinator(zap.NewNop(), db, mockClient, hub)

	return db, mockClient, hub, coordinator
}

func createActiveTrade(t *testing.T, db *gorm.DB, mutate func(*models.Trade)) (*models.User, *models.Trade) {
	user := &models.User{Username: "alice", Balance: dec("100.00")}
	require.NoError(t, db.Create(user).Error)

	trade := &models.Trade{
		Ref:              "ref-1",
		UserID:           user.ID,
		Asset:            "BTCUSDT",
		EntryPrice:       dec("100.00"),
		Direction:        models.DirectionUp,
		Amount:           dec("50.00"),
		ProfitPercentage: dec("80"),
		Duration:         60,
		EndTime:          time.Now().Add(-time.Second),
		Status:           models.StatusActive,
	}
	if mutate != nil {
		mutate(trade)
	}
	require.NoError(t, db.Create(trade).Error)
	return user, trade
}

func TestSettle_WinCreditsBalanceAtomically(t *testing.T) {
	db, mockClient, hub, coordinator := setupTest(t)
	user, trade := createActiveTrade(t, db, nil)

	events := hub.Subscribe(user.ID)
	defer hub.Unsubscribe(user.ID, events)

	mockClient.On("GetCurrentPrice", "BTCUSDT").Return(dec("105.00"), nil).Once()

	err := coordinator.Settle(context.Background(), trade.ID)
	require.NoError(t, err)

	var settled models.Trade
	require.NoError(t, db.First(&settled, trade.ID).Error)
	assert.Equal(t, models.StatusCompleted, settled.Status)
	assert.Equal(t, models.ResultWin, settled.Result)
	require.NotNil(t, settled.ClosedAt)
	assert.False(t, settled.ClosedAt.Before(settled.CreatedAt))

	var updated models.User
	require.NoError(t, db.First(&updated, user.ID).Error)
	assert.True(t, updated.Balance.Equal(dec("190.00")), "balance was %s", updated.Balance)

	select {
	case event := <-events:
		assert.Equal(t, trade.ID, event.TradeID)
		assert.Equal(t, user.ID, event.UserID)
		assert.Equal(t, models.ResultWin, event.Result)
		assert.Equal(t, models.StatusCompleted, event.Status)
	default:
		t.Fatal("expected a settlement event")
	}

	mockClient.AssertExpectations(t)
}

func TestSettle_LoseLeavesBalanceUntouched(t *testing.T) {
	db, mockClient, _, coordinator := setupTest(t)
	user, trade := createActiveTrade(t, db, nil)

	mockClient.On("GetCurrentPrice", "BTCUSDT").Return(dec("95.00"), nil).Once()

	err := coordinator.Settle(context.Background(), trade.ID)
	require.NoError(t, err)

	var settled models.Trade
	require.NoError(t, db.First(&settled, trade.ID).Error)
	assert.Equal(t, models.StatusCompleted, settled.Status)
	assert.Equal(t, models.ResultLose, settled.Result)

	var updated models.User
	require.NoError(t, db.First(&updated, user.ID).Error)
	assert.True(t, updated.Balance.Equal(dec("100.00")), "balance was %s", updated.Balance)
}

func TestSettle_IsIdempotent(t *testing.T) {
	db, mockClient, _, coordinator := setupTest(t)
	user, trade := createActiveTrade(t, db, nil)

	// Only the first call may reach the price feed.
	mockClient.On("GetCurrentPrice", "BTCUSDT").Return(dec("105.00"), nil).Once()

	require.NoError(t, coordinator.Settle(context.Background(), trade.ID))
	require.NoError(t, coordinator.Settle(context.Background(), trade.ID))

	var updated models.User
	require.NoError(t, db.First(&updated, user.ID).Error)
	assert.True(t, updated.Balance.Equal(dec("190.00")), "double settle must credit once, balance was %s", updated.Balance)

	mockClient.AssertExpectations(t)
}

func TestSettle_PredeterminedResultSkipsPriceFetch(t *testing.T) {
	db, mockClient, _, coordinator := setupTest(t)
	user, trade := createActiveTrade(t, db, func(tr *models.Trade) {
		tr.PredeterminedResult = models.ResultWin
	})

	err := coordinator.Settle(context.Background(), trade.ID)
	require.NoError(t, err)

	var settled models.Trade
	require.NoError(t, db.First(&settled, trade.ID).Error)
	assert.Equal(t, models.ResultWin, settled.Result)

	var updated models.User
	require.NoError(t, db.First(&updated, user.ID).Error)
	assert.True(t, updated.Balance.Equal(dec("190.00")))

	mockClient.AssertNotCalled(t, "GetCurrentPrice", mock.Anything)
}

func TestSettle_PriceUnavailableLeavesTradeActive(t *testing.T) {
	db, mockClient, _, coordinator := setupTest(t)
	user, trade := createActiveTrade(t, db, nil)

	mockClient.On("GetCurrentPrice", "BTCUSDT").Return(decimal.Zero, prices.ErrUnavailable)

	err := coordinator.Settle(context.Background(), trade.ID)
	assert.ErrorIs(t, err, prices.ErrUnavailable)

	var unchanged models.Trade
	require.NoError(t, db.First(&unchanged, trade.ID).Error)
	assert.Equal(t, models.StatusActive, unchanged.Status)
	assert.Empty(t, unchanged.Result)
	assert.Nil(t, unchanged.ClosedAt)

	var updated models.User
	require.NoError(t, db.First(&updated, user.ID).Error)
	assert.True(t, updated.Balance.Equal(dec("100.00")))
}

func TestSettle_CancelledTradeIsANoOp(t *testing.T) {
	db, mockClient, _, coordinator := setupTest(t)
	user, trade := createActiveTrade(t, db, func(tr *models.Trade) {
		tr.Status = models.StatusCancelled
	})

	err := coordinator.Settle(context.Background(), trade.ID)
	require.NoError(t, err)

	var unchanged models.Trade
	require.NoError(t, db.First(&unchanged, trade.ID).Error)
	assert.Equal(t, models.StatusCancelled, unchanged.Status)
	assert.Empty(t, unchanged.Result)

	var updated models.User
	require.NoError(t, db.First(&updated, user.ID).Error)
	assert.True(t, updated.Balance.Equal(dec("100.00")))

	mockClient.AssertNotCalled(t, "GetCurrentPrice", mock.Anything)
}

func TestSettle_ConcurrentCancelWinsTheRace(t *testing.T) {
	db, mockClient, _, coordinator := setupTest(t)
	user, trade := createActiveTrade(t, db, nil)

	// Admin cancel lands between the coordinator's read and its conditional
	// update. The guard must turn the settle into a no-op.
	mockClient.On("GetCurrentPrice", "BTCUSDT").
		Run(func(args mock.Arguments) {
			res := db.Model(&models.Trade{}).
				Where("id = ? AND status = ?", trade.ID, models.StatusActive).
				Update("status", models.StatusCancelled)
			require.NoError(t, res.Error)
			require.EqualValues(t, 1, res.RowsAffected)
		}).
		Return(dec("105.00"), nil).Once()

	err := coordinator.Settle(context.Background(), trade.ID)
	require.NoError(t, err)

	var unchanged models.Trade
	require.NoError(t, db.First(&unchanged, trade.ID).Error)
	assert.Equal(t, models.StatusCancelled, unchanged.Status, "exactly one terminal state must result")
	assert.Empty(t, unchanged.Result)

	var updated models.User
	require.NoError(t, db.First(&updated, user.ID).Error)
	assert.True(t, updated.Balance.Equal(dec("100.00")), "losing settle must not credit")
}

func TestSettle_ConcurrentOverrideWinsTheRace(t *testing.T) {
	db, mockClient, _, coordinator := setupTest(t)
	user, trade := createActiveTrade(t, db, nil)

	// Admin forces a loss between the coordinator's read and its conditional
	// update. The guard must turn the stale winning settle into a no-op
	// instead of paying out against the override.
	mockClient.On("GetCurrentPrice", "BTCUSDT").
		Run(func(args mock.Arguments) {
			res := db.Model(&models.Trade{}).
				Where("id = ? AND status = ?", trade.ID, models.StatusActive).
				Update("predetermined_result", models.ResultLose)
			require.NoError(t, res.Error)
			require.EqualValues(t, 1, res.RowsAffected)
		}).
		Return(dec("105.00"), nil).Once()

	require.NoError(t, coordinator.Settle(context.Background(), trade.ID))

	var pending models.Trade
	require.NoError(t, db.First(&pending, trade.ID).Error)
	assert.Equal(t, models.StatusActive, pending.Status, "stale settle must not commit")
	assert.Empty(t, pending.Result)

	// The next attempt re-reads the override and needs no price fetch.
	require.NoError(t, coordinator.Settle(context.Background(), trade.ID))

	var settled models.Trade
	require.NoError(t, db.First(&settled, trade.ID).Error)
	assert.Equal(t, models.StatusCompleted, settled.Status)
	assert.Equal(t, models.ResultLose, settled.Result)

	var updated models.User
	require.NoError(t, db.First(&updated, user.ID).Error)
	assert.True(t, updated.Balance.Equal(dec("100.00")), "forced-lose trade must not be credited, balance was %s", updated.Balance)

	mockClient.AssertExpectations(t)
}

func TestSettle_InvalidDirectionLeavesTradeUntouched(t *testing.T) {
	db, mockClient, _, coordinator := setupTest(t)
	_, trade := createActiveTrade(t, db, func(tr *models.Trade) {
		tr.Direction = "sideways"
	})

	mockClient.On("GetCurrentPrice", "BTCUSDT").Return(dec("105.00"), nil).Once()

	err := coordinator.Settle(context.Background(), trade.ID)
	assert.ErrorIs(t, err, ErrInvalidTradeState)

	var unchanged models.Trade
	require.NoError(t, db.First(&unchanged, trade.ID).Error)
	assert.Equal(t, models.StatusActive, unchanged.Status)
}

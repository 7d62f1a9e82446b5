package prices

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"updown-trading-go/internal/config"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrUnavailable is returned when the market data feed cannot supply a price.
// Callers treat it as transient.
var ErrUnavailable = errors.New("price unavailable")

// ClientInterface defines the interface for the market data client.
type ClientInterface interface {
	GetCurrentPrice(ctx context.Context, asset string) (decimal.Decimal, error)
}

// Client fetches reference prices from the market data feed.
// It implements the ClientInterface.
type Client struct {
	client  *resty.Client
	logger  *zap.Logger
	limiter *rate.Limiter
}

// ensure Client implements the interface
var _ ClientInterface = (*Client)(nil)

// NewClient creates a new market data client.
func NewClient(cfg *config.Prices, logger *zap.Logger) *Client {
	client := resty.New().SetBaseURL(cfg.BaseURL)

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &Client{
		client:  client,
		logger:  logger,
		limiter: limiter,
	}
}

// tickerPrice represents the response for a single ticker price.
type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// GetCurrentPrice fetches the latest price for the given asset.
// Failures of the feed are reported as ErrUnavailable.
func (c *Client) GetCurrentPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	var ticker tickerPrice

	req := c.client.R().
		SetContext(ctx).
		SetQueryParam("symbol", asset).
		SetResult(&ticker).
		SetHeader("Content-Type", "application/json")

	resp, err := c.doRequest(ctx, "GET", "/ticker/price", req)
	if err != nil {
		c.logger.Warn("Failed to fetch reference price",
			zap.String("asset", asset), zap.Error(err))
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnavailable, asset)
	}

	result := resp.Result().(*tickerPrice)
	price, err := decimal.NewFromString(result.Price)
	if err != nil {
		c.logger.Error("Feed returned an unparseable price",
			zap.String("asset", asset), zap.String("price", result.Price), zap.Error(err))
		return decimal.Zero, fmt.Errorf("%w: bad price %q for %s", ErrUnavailable, result.Price, asset)
	}

	return price, nil
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *Client) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 2

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Only transport failures and server-side errors are worth retrying.
		shouldRetry := true
		if resp != nil && err == nil {
			statusCode := resp.StatusCode()
			shouldRetry = statusCode >= 500 || statusCode == http.StatusTooManyRequests
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		retryAfter := time.Duration(i+1) * time.Second
		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

package torn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"raffleflow/config"
	"raffleflow/logger"
	"raffleflow/models"
)

// APIError is an explicit error payload returned by the Torn API. It is a
// remote failure, distinct from transport errors, but both are transient to
// callers: log and retry on the next scheduled attempt.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("torn api error %d: %s", e.Code, e.Message)
}

// ItemInfo is the catalog record for a single item. MarketValue is the
// tracked resale value; BuyPrice is the posted shop price used as a fallback
// for goods with no resale market.
type ItemInfo struct {
	Name        string `json:"name"`
	MarketValue int64  `json:"market_value"`
	BuyPrice    int64  `json:"buy_price"`
}

type logData struct {
	Message string    `json:"message"`
	Sender  int64     `json:"sender"`
	Items   []logItem `json:"items"`
}

type logItem struct {
	ID  int64 `json:"id"`
	Qty int64 `json:"qty"`
}

type logEntry struct {
	Timestamp int64   `json:"timestamp"`
	Category  int     `json:"log"`
	Data      logData `json:"data"`
}

type logResponse struct {
	Error *APIError           `json:"error"`
	Log   map[string]logEntry `json:"log"`
}

type itemsResponse struct {
	Error *APIError           `json:"error"`
	Items map[string]ItemInfo `json:"items"`
}

// Client is a read-only Torn API client for the monitored account. All calls
// pass through a shared rate limiter so the combined poll and refresh load
// stays inside the API key's request budget.
type Client struct {
	baseURL string
	apiKey  string
	hostID  string
	client  *http.Client
	limiter *rate.Limiter
	log     *logger.Log
}

// NewClient builds a Client from the torn section of the configuration.
func NewClient(cfg config.TornConfig) *Client {
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 60
	}

	return &Client{
		baseURL: cfg.APIURL,
		apiKey:  cfg.APIKey,
		hostID:  cfg.HostID,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
		log:     logger.GetLogger(),
	}
}

// FetchLog fetches up to limit recent activity log entries for the monitored
// account. The API gives no ordering guarantee; callers sort by timestamp.
func (c *Client) FetchLog(ctx context.Context, limit int) ([]models.LogEntry, error) {
	log := c.log.WithComponent("torn_client").WithFields(logger.Fields{"operation": "fetch_log"})

	url := fmt.Sprintf("%s/user/%s?selections=log&key=%s&limit=%d", c.baseURL, c.hostID, c.apiKey, limit)

	var resp logResponse
	if err := c.get(ctx, url, "fetch_log", &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}

	entries := make([]models.LogEntry, 0, len(resp.Log))
	for _, e := range resp.Log {
		items := make([]models.LogItem, 0, len(e.Data.Items))
		for _, it := range e.Data.Items {
			items = append(items, models.LogItem{
				ID:  strconv.FormatInt(it.ID, 10),
				Qty: it.Qty,
			})
		}
		entries = append(entries, models.LogEntry{
			Timestamp: e.Timestamp,
			Category:  e.Category,
			Message:   e.Data.Message,
			SenderID:  strconv.FormatInt(e.Data.Sender, 10),
			Items:     items,
		})
	}

	log.WithFields(logger.Fields{"entries": len(entries)}).Debug("fetched activity log")
	return entries, nil
}

// FetchItems fetches the full item catalog.
func (c *Client) FetchItems(ctx context.Context) (map[string]ItemInfo, error) {
	url := fmt.Sprintf("%s/torn/?selections=items&key=%s", c.baseURL, c.apiKey)

	var resp itemsResponse
	if err := c.get(ctx, url, "fetch_items", &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Items, nil
}

func (c *Client) get(ctx context.Context, url, operation string, v interface{}) error {
	log := c.log.WithComponent("torn_client").WithFields(logger.Fields{"operation": operation})

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	logger.LogPerformanceEntry(log, "torn_client", "api_request", time.Since(start), nil)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

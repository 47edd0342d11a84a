package pricing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"raffleflow/config"
	"raffleflow/logger"
	"raffleflow/models"
	"raffleflow/reader/torn"
)

const document = "item_prices"

// Catalog is the slice of the Torn client the price table needs.
type Catalog interface {
	FetchItems(ctx context.Context) (map[string]torn.ItemInfo, error)
}

// Storage is the document store surface the table depends on.
type Storage interface {
	Load(name string, v interface{}) error
	Save(name string, v interface{}) error
}

// Table owns the item price table: a wholesale-replaced mapping from item ID
// to unit value, persisted after every successful refresh and consulted by
// the ingestion engine to value donations.
type Table struct {
	config  config.PricingConfig
	catalog Catalog
	store   Storage

	mu      sync.RWMutex
	prices  models.PriceTable
	running bool
	ctx     context.Context
	wg      sync.WaitGroup
	log     *logger.Log
}

// NewTable loads the persisted price table (empty when absent or corrupt)
// and returns a Table ready for lookups and refreshes.
func NewTable(cfg config.PricingConfig, catalog Catalog, st Storage) *Table {
	t := &Table{
		config:  cfg,
		catalog: catalog,
		store:   st,
		prices:  make(models.PriceTable),
		log:     logger.GetLogger(),
	}
	t.store.Load(document, &t.prices)

	t.log.WithComponent("pricing").WithFields(logger.Fields{"items": len(t.prices)}).Info("price table loaded")
	return t
}

// Refresh fetches the item catalog and replaces the whole table. On any
// failure the existing table is left untouched and the error returned for
// the caller to log; the next scheduled refresh supersedes it.
func (t *Table) Refresh(ctx context.Context) error {
	log := t.log.WithComponent("pricing").WithFields(logger.Fields{"operation": "refresh"})

	items, err := t.catalog.FetchItems(ctx)
	if err != nil {
		return fmt.Errorf("fetch items: %w", err)
	}

	next := make(models.PriceTable, len(items))
	for id, info := range items {
		// Market value when tracked; posted buy price covers goods with
		// no resale market.
		price := info.MarketValue
		if price <= 0 {
			price = info.BuyPrice
		}
		next[id] = price
	}

	t.mu.Lock()
	t.prices = next
	t.mu.Unlock()

	if err := t.store.Save(document, next); err != nil {
		log.WithError(err).Warn("failed to persist price table")
	}

	log.WithFields(logger.Fields{"items": len(next)}).Info("price table refreshed")
	t.log.WithComponent("pricing").LogMetric("pricing", "items_tracked", len(next), "gauge", nil)
	return nil
}

// Lookup returns the unit value for an item, or 0 when the item is unknown.
func (t *Table) Lookup(id string) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.prices[id]
}

// Count returns the number of tracked items.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.prices)
}

// Start launches the periodic refresh worker. An immediate refresh runs only
// when the persisted table is empty; otherwise the first refresh waits for
// the configured interval.
func (t *Table) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return fmt.Errorf("pricing worker already running")
	}
	t.running = true
	t.ctx = ctx
	t.mu.Unlock()

	log := t.log.WithComponent("pricing").WithFields(logger.Fields{"operation": "start"})

	if t.Count() == 0 {
		if err := t.Refresh(ctx); err != nil {
			log.WithError(err).Warn("initial price refresh failed")
		}
	}

	t.wg.Add(1)
	go t.refreshWorker()

	log.WithFields(logger.Fields{"interval": t.config.RefreshInterval.String()}).Info("pricing worker started")
	return nil
}

// Stop waits for the refresh worker to exit.
func (t *Table) Stop() {
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()

	t.log.WithComponent("pricing").Info("stopping pricing worker")
	t.wg.Wait()
	t.log.WithComponent("pricing").Info("pricing worker stopped")
}

func (t *Table) refreshWorker() {
	defer t.wg.Done()

	log := t.log.WithComponent("pricing").WithFields(logger.Fields{"worker": "price_refresher"})

	ticker := time.NewTicker(t.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case <-ticker.C:
			if err := t.Refresh(t.ctx); err != nil {
				log.WithError(err).Warn("scheduled price refresh failed")
			}
		}
	}
}

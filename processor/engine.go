package processor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	appconfig "raffleflow/config"
	"raffleflow/ledger"
	"raffleflow/logger"
	"raffleflow/models"
	"raffleflow/notify"
)

// LogSource is the slice of the Torn client the engine needs.
type LogSource interface {
	FetchLog(ctx context.Context, limit int) ([]models.LogEntry, error)
}

// Pricer values a single item; unknown items value 0.
type Pricer interface {
	Lookup(id string) int64
}

// EventSink receives award events for live consumers (the dashboard stream).
type EventSink interface {
	Publish(ev models.AwardEvent)
}

// Engine polls the monitored account's activity log, classifies donation
// entries, values them against the price table and credits tickets in the
// ledger. Each fetched batch is applied and persisted as one atomic unit:
// the in-memory cursor advances per examined entry, and ledger plus cursor
// are saved together at batch end, so a crash mid-batch drops the whole
// batch and the next poll re-derives it without double credit.
type Engine struct {
	config   *appconfig.Config
	source   LogSource
	prices   Pricer
	book     *ledger.Book
	notifier notify.Notifier
	events   EventSink

	ctx     context.Context
	wg      sync.WaitGroup
	mu      sync.RWMutex
	pollMu  sync.Mutex
	running bool
	log     *logger.Log
}

// NewEngine wires the ingestion engine. events may be nil when no live
// consumer is attached.
func NewEngine(cfg *appconfig.Config, source LogSource, prices Pricer, book *ledger.Book, notifier notify.Notifier, events EventSink) *Engine {
	return &Engine{
		config:   cfg,
		source:   source,
		prices:   prices,
		book:     book,
		notifier: notifier,
		events:   events,
		log:      logger.GetLogger(),
	}
}

// Start launches the polling worker. The first poll runs immediately.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.ctx = ctx
	e.mu.Unlock()

	log := e.log.WithComponent("engine").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{
		"interval":     e.config.Torn.PollInterval.String(),
		"log_limit":    e.config.Torn.LogLimit,
		"category":     e.config.Torn.LogCategory,
		"trigger":      e.config.Torn.TriggerMessage,
		"ticket_price": e.config.Raffle.TicketPrice,
	}).Info("starting donation watcher")

	e.wg.Add(1)
	go e.pollWorker()

	log.Info("engine started successfully")
	return nil
}

// Stop waits for the polling worker to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()

	e.log.WithComponent("engine").Info("stopping engine")
	e.wg.Wait()
	e.log.WithComponent("engine").Info("engine stopped")
}

func (e *Engine) pollWorker() {
	defer e.wg.Done()

	log := e.log.WithComponent("engine").WithFields(logger.Fields{"worker": "donation_watcher"})

	if err := e.PollOnce(e.ctx); err != nil {
		log.WithError(err).Warn("initial poll failed")
	}

	ticker := time.NewTicker(e.config.Torn.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case <-ticker.C:
			if err := e.PollOnce(e.ctx); err != nil {
				log.WithError(err).Warn("poll failed")
			}
		}
	}
}

// PollOnce runs a single ingestion pass. Runs never overlap; a failed fetch
// mutates nothing and is retried on the next tick.
func (e *Engine) PollOnce(ctx context.Context) error {
	e.pollMu.Lock()
	defer e.pollMu.Unlock()

	log := e.log.WithComponent("engine").WithFields(logger.Fields{"operation": "poll"})

	entries, err := e.source.FetchLog(ctx, e.config.Torn.LogLimit)
	if err != nil {
		return fmt.Errorf("fetch log: %w", err)
	}

	// The source gives no ordering guarantee; process oldest first so the
	// cursor walks forward through the batch.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp < entries[j].Timestamp
	})

	dirty := false
	examined := 0
	awarded := int64(0)

	for _, entry := range entries {
		if entry.Timestamp <= e.book.Cursor() {
			continue
		}

		// Advance even for non-qualifying entries so they are never
		// re-examined.
		e.book.Advance(entry.Timestamp)
		dirty = true
		examined++

		if !e.qualifies(entry) {
			continue
		}

		value := e.valueOf(entry)
		tickets := value / e.config.Raffle.TicketPrice

		if tickets <= 0 {
			// Too small to round up to a ticket; the value is not
			// carried over toward a future ticket.
			log.WithFields(logger.Fields{
				"sender": entry.SenderID,
				"value":  value,
			}).Info("donation below ticket price, no award")
			continue
		}

		total := e.book.Award(entry.SenderID, value, tickets)
		awarded += tickets

		ev := models.AwardEvent{
			SenderID:     entry.SenderID,
			Handle:       e.book.Handle(entry.SenderID),
			Value:        value,
			Tickets:      tickets,
			TotalTickets: total,
			Timestamp:    entry.Timestamp,
		}
		e.announce(ctx, ev)
	}

	if dirty {
		if err := e.book.Persist(); err != nil {
			return fmt.Errorf("persist ledger: %w", err)
		}
		logger.LogDataFlowEntry(log, "torn_api", "ledger", examined, "log_entries")
		log.LogMetric("engine", "entries_processed", examined, "counter", nil)
		if awarded > 0 {
			log.LogMetric("engine", "tickets_awarded", awarded, "counter", nil)
		}
	}

	return nil
}

// qualifies reports whether an entry is a donation to the raffle: the
// configured log category carrying the trigger message.
func (e *Engine) qualifies(entry models.LogEntry) bool {
	if entry.Category != e.config.Torn.LogCategory {
		return false
	}
	return strings.Contains(entry.Message, e.config.Torn.TriggerMessage)
}

// valueOf prices a donation. Items missing from the price table contribute
// nothing.
func (e *Engine) valueOf(entry models.LogEntry) int64 {
	var value int64
	for _, item := range entry.Items {
		value += e.prices.Lookup(item.ID) * item.Qty
	}
	return value
}

// announce delivers the award notification and feeds the live event stream.
// Neither failure path affects ingestion.
func (e *Engine) announce(ctx context.Context, ev models.AwardEvent) {
	if e.events != nil {
		e.events.Publish(ev)
	}
	if err := e.notifier.Notify(ctx, notify.FormatAward(ev)); err != nil {
		e.log.WithComponent("engine").WithError(err).WithFields(logger.Fields{
			"sender": ev.SenderID,
		}).Warn("failed to deliver award notification")
	}
}

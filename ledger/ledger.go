package ledger

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"raffleflow/logger"
	"raffleflow/models"
)

const (
	ledgerDocument = "raffle_data"
	linksDocument  = "linked_users"
)

// Storage is the document store surface the book depends on.
type Storage interface {
	Load(name string, v interface{}) error
	Save(name string, v interface{}) error
}

// Book owns the persisted raffle ledger and the account link table. All
// mutations go through Book under one mutex, and the ledger is persisted as a
// single atomic document so the ingestion cursor can never drift apart from
// the credits recorded against it.
type Book struct {
	store Storage
	log   *logger.Log

	mu     sync.RWMutex
	ledger models.Ledger
	links  models.Links
}

// Open loads the ledger and link documents, falling back to empty state when
// either is absent or corrupt. A fresh ledger gets a round ID immediately.
func Open(st Storage) (*Book, error) {
	b := &Book{
		store:  st,
		ledger: models.NewLedger(),
		links:  make(models.Links),
		log:    logger.GetLogger(),
	}

	st.Load(ledgerDocument, &b.ledger)
	st.Load(linksDocument, &b.links)

	if b.ledger.Tickets == nil {
		b.ledger.Tickets = make(map[string]int64)
	}
	if b.ledger.Meta.RoundID == "" {
		b.ledger.Meta.RoundID = uuid.NewString()
		if err := st.Save(ledgerDocument, b.ledger); err != nil {
			return nil, fmt.Errorf("persist fresh ledger: %w", err)
		}
	}

	b.log.WithComponent("ledger").WithFields(logger.Fields{
		"round_id":     b.ledger.Meta.RoundID,
		"cursor":       b.ledger.Meta.LastLogTimestamp,
		"participants": len(b.ledger.Tickets),
	}).Info("ledger loaded")

	return b, nil
}

// Cursor returns the timestamp of the most recently examined log entry.
func (b *Book) Cursor() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ledger.Meta.LastLogTimestamp
}

// Advance moves the in-memory cursor forward. The cursor never rewinds;
// callers are expected to persist the batch once it is complete.
func (b *Book) Advance(ts int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ts > b.ledger.Meta.LastLogTimestamp {
		b.ledger.Meta.LastLogTimestamp = ts
	}
}

// Award credits tickets to an account and adds the donation value to the
// pool. It returns the account's new ticket total.
func (b *Book) Award(senderID string, value, tickets int64) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ledger.Tickets[senderID] += tickets
	b.ledger.Meta.TotalPoolValue += value
	return b.ledger.Tickets[senderID]
}

// Persist writes the whole ledger document in one atomic save.
func (b *Book) Persist() error {
	b.mu.RLock()
	snap := b.snapshotLocked()
	b.mu.RUnlock()
	return b.store.Save(ledgerDocument, snap)
}

// ResetRound flushes ticket counts and the pool value, assigns a new round ID
// and persists immediately. The ingestion cursor is deliberately untouched:
// rewinding it would re-credit entries already examined.
func (b *Book) ResetRound() error {
	b.mu.Lock()
	b.ledger.Tickets = make(map[string]int64)
	b.ledger.Meta.TotalPoolValue = 0
	b.ledger.Meta.RoundID = uuid.NewString()
	snap := b.snapshotLocked()
	b.mu.Unlock()

	if err := b.store.Save(ledgerDocument, snap); err != nil {
		return fmt.Errorf("persist reset ledger: %w", err)
	}

	b.log.WithComponent("ledger").WithFields(logger.Fields{"round_id": snap.Meta.RoundID}).Info("round reset")
	return nil
}

// TicketCount returns the ticket total for an account, 0 when unknown.
func (b *Book) TicketCount(id string) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ledger.Tickets[id]
}

// Stats returns the aggregate view of the current round.
func (b *Book) Stats() models.PoolStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var total int64
	for _, n := range b.ledger.Tickets {
		total += n
	}
	return models.PoolStats{
		TotalValue:   b.ledger.Meta.TotalPoolValue,
		TotalTickets: total,
		Participants: len(b.ledger.Tickets),
	}
}

// RoundID returns the identifier of the current round.
func (b *Book) RoundID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ledger.Meta.RoundID
}

// Link upserts the notification handle for an external account and persists
// the link table.
func (b *Book) Link(handle, accountID string) error {
	b.mu.Lock()
	b.links[accountID] = handle
	snap := make(models.Links, len(b.links))
	for k, v := range b.links {
		snap[k] = v
	}
	b.mu.Unlock()

	return b.store.Save(linksDocument, snap)
}

// Handle resolves the notification handle linked to an account, or "" when
// the account is unlinked.
func (b *Book) Handle(accountID string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.links[accountID]
}

// Snapshot returns a deep copy of the ledger document, suitable for
// archiving without holding the lock.
func (b *Book) Snapshot() models.Ledger {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshotLocked()
}

func (b *Book) snapshotLocked() models.Ledger {
	snap := models.Ledger{
		Meta:    b.ledger.Meta,
		Tickets: make(map[string]int64, len(b.ledger.Tickets)),
	}
	for k, v := range b.ledger.Tickets {
		snap.Tickets[k] = v
	}
	return snap
}

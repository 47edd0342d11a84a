package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"raffleflow/ledger"
	"raffleflow/logger"
	"raffleflow/models"
	"raffleflow/notify"
)

// PriceRefresher is the slice of the price table the command surface needs.
type PriceRefresher interface {
	Refresh(ctx context.Context) error
	Count() int
}

// Archiver stores a final round snapshot before a reset wipes it.
type Archiver interface {
	ArchiveRound(ctx context.Context, snap models.Ledger) error
}

type pendingReset struct {
	token   string
	expires time.Time
}

// Service is the command surface the bot front end talks to: thin accessors
// over the ledger and price table, plus the two-step round reset. A reset
// must be confirmed with its token before a fixed deadline; on expiry it is
// abandoned with no state change.
type Service struct {
	book     *ledger.Book
	prices   PriceRefresher
	archive  Archiver
	notifier notify.Notifier
	timeout  time.Duration
	log      *logger.Log

	mu      sync.Mutex
	pending *pendingReset
	now     func() time.Time
}

// New wires the command surface. archive may be nil when S3 is disabled.
func New(book *ledger.Book, prices PriceRefresher, archive Archiver, notifier notify.Notifier, confirmTimeout time.Duration) *Service {
	if confirmTimeout <= 0 {
		confirmTimeout = 30 * time.Second
	}
	return &Service{
		book:     book,
		prices:   prices,
		archive:  archive,
		notifier: notifier,
		timeout:  confirmTimeout,
		log:      logger.GetLogger(),
		now:      time.Now,
	}
}

// LinkAccount upserts the notification handle for an external account.
func (s *Service) LinkAccount(handle, accountID string) error {
	if accountID == "" {
		return fmt.Errorf("account id must not be empty")
	}
	return s.book.Link(handle, accountID)
}

// GetTicketCount returns the ticket total for an account, 0 when unknown.
func (s *Service) GetTicketCount(accountID string) int64 {
	return s.book.TicketCount(accountID)
}

// GetPoolStats returns the aggregate view of the current round.
func (s *Service) GetPoolStats() models.PoolStats {
	return s.book.Stats()
}

// ForceRefreshPrices refreshes the price table immediately and returns the
// number of tracked items.
func (s *Service) ForceRefreshPrices(ctx context.Context) (int, error) {
	if err := s.prices.Refresh(ctx); err != nil {
		return 0, err
	}
	return s.prices.Count(), nil
}

// BeginReset opens a reset confirmation window and returns the token that
// must be presented to ConfirmReset before the deadline. Only one reset can
// be pending at a time.
func (s *Service) BeginReset(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != nil && s.now().Before(s.pending.expires) {
		return "", fmt.Errorf("a reset is already awaiting confirmation")
	}

	token := uuid.NewString()
	s.pending = &pendingReset{token: token, expires: s.now().Add(s.timeout)}

	s.log.WithComponent("service").WithFields(logger.Fields{
		"expires": s.pending.expires.Format(time.RFC3339),
	}).Info("reset confirmation window opened")

	text := fmt.Sprintf(
		"⚠️ **WARNING: STARTING NEW RAFFLE** ⚠️\nThis will set all ticket counts to **0**.\nIt will NOT delete user links.\n\nConfirm within %s to proceed.",
		s.timeout,
	)
	if err := s.notifier.Notify(ctx, text); err != nil {
		s.log.WithComponent("service").WithError(err).Warn("failed to deliver reset warning")
	}

	return token, nil
}

// ConfirmReset completes a pending reset. The final standings are archived
// first, then tickets and pool value are flushed; the ingestion cursor is
// untouched. An expired or unknown token leaves all state unchanged.
func (s *Service) ConfirmReset(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil || s.pending.token != token {
		return fmt.Errorf("no matching reset is awaiting confirmation")
	}
	if s.now().After(s.pending.expires) {
		s.pending = nil
		s.log.WithComponent("service").Info("reset confirmation timed out")
		if err := s.notifier.Notify(ctx, "❌ Timed out. Raffle NOT reset."); err != nil {
			s.log.WithComponent("service").WithError(err).Warn("failed to deliver timeout notice")
		}
		return fmt.Errorf("reset confirmation expired")
	}
	s.pending = nil

	if s.archive != nil {
		if err := s.archive.ArchiveRound(ctx, s.book.Snapshot()); err != nil {
			s.log.WithComponent("service").WithError(err).Warn("failed to archive round before reset")
		}
	}

	if err := s.book.ResetRound(); err != nil {
		return fmt.Errorf("reset round: %w", err)
	}

	if err := s.notifier.Notify(ctx, "✅ **Raffle Reset Complete!**\n• Ticket counts flushed to 0.\n• Pot value reset to $0.\n• Ready to accept items for the next round."); err != nil {
		s.log.WithComponent("service").WithError(err).Warn("failed to deliver reset notice")
	}

	return nil
}

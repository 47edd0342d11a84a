package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"raffleflow/ledger"
	"raffleflow/models"
	"raffleflow/store"
)

type fakeRefresher struct {
	count int
	err   error
}

func (f *fakeRefresher) Refresh(ctx context.Context) error { return f.err }
func (f *fakeRefresher) Count() int                        { return f.count }

type fakeArchiver struct {
	snaps []models.Ledger
	err   error
}

func (f *fakeArchiver) ArchiveRound(ctx context.Context, snap models.Ledger) error {
	f.snaps = append(f.snaps, snap)
	return f.err
}

type silentNotifier struct {
	messages []string
}

func (s *silentNotifier) Notify(ctx context.Context, text string) error {
	s.messages = append(s.messages, text)
	return nil
}

func testService(t *testing.T) (*Service, *ledger.Book, *fakeArchiver) {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	book, err := ledger.Open(st)
	if err != nil {
		t.Fatalf("open book: %v", err)
	}
	arch := &fakeArchiver{}
	svc := New(book, &fakeRefresher{count: 3}, arch, &silentNotifier{}, 30*time.Second)
	return svc, book, arch
}

func TestLinkAndTicketCount(t *testing.T) {
	svc, book, _ := testService(t)

	if err := svc.LinkAccount("<@9001>", "42"); err != nil {
		t.Fatalf("link: %v", err)
	}
	book.Award("42", 800000, 2)

	if got := svc.GetTicketCount("42"); got != 2 {
		t.Errorf("unexpected ticket count: %d", got)
	}
	if got := svc.GetTicketCount("unknown"); got != 0 {
		t.Errorf("unknown account must be 0, got %d", got)
	}
}

func TestLinkEmptyAccountRejected(t *testing.T) {
	svc, _, _ := testService(t)
	if err := svc.LinkAccount("<@9001>", ""); err == nil {
		t.Fatalf("expected error for empty account id")
	}
}

func TestForceRefreshPrices(t *testing.T) {
	svc, _, _ := testService(t)
	n, err := svc.ForceRefreshPrices(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if n != 3 {
		t.Errorf("unexpected item count: %d", n)
	}
}

func TestForceRefreshPricesError(t *testing.T) {
	svc, _, _ := testService(t)
	svc.prices = &fakeRefresher{err: errors.New("api down")}
	if _, err := svc.ForceRefreshPrices(context.Background()); err == nil {
		t.Fatalf("expected refresh error")
	}
}

func TestResetFlowConfirmed(t *testing.T) {
	svc, book, arch := testService(t)
	book.Advance(500)
	book.Award("42", 800000, 2)
	oldRound := book.RoundID()

	token, err := svc.BeginReset(context.Background())
	if err != nil {
		t.Fatalf("begin reset: %v", err)
	}
	if err := svc.ConfirmReset(context.Background(), token); err != nil {
		t.Fatalf("confirm reset: %v", err)
	}

	if book.TicketCount("42") != 0 {
		t.Errorf("tickets not flushed")
	}
	if book.Cursor() != 500 {
		t.Errorf("cursor must survive reset: %d", book.Cursor())
	}
	if len(arch.snaps) != 1 {
		t.Fatalf("round not archived before reset")
	}
	if arch.snaps[0].Tickets["42"] != 2 || arch.snaps[0].Meta.RoundID != oldRound {
		t.Errorf("archived snapshot is not the pre-reset state: %+v", arch.snaps[0])
	}
}

func TestResetExpiredToken(t *testing.T) {
	svc, book, _ := testService(t)
	book.Award("42", 800000, 2)

	token, err := svc.BeginReset(context.Background())
	if err != nil {
		t.Fatalf("begin reset: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(time.Minute) }

	if err := svc.ConfirmReset(context.Background(), token); err == nil {
		t.Fatalf("expected error for expired confirmation")
	}
	if book.TicketCount("42") != 2 {
		t.Errorf("expired reset mutated state")
	}
}

func TestResetUnknownToken(t *testing.T) {
	svc, book, _ := testService(t)
	book.Award("42", 800000, 2)

	if _, err := svc.BeginReset(context.Background()); err != nil {
		t.Fatalf("begin reset: %v", err)
	}
	if err := svc.ConfirmReset(context.Background(), "bogus"); err == nil {
		t.Fatalf("expected error for unknown token")
	}
	if book.TicketCount("42") != 2 {
		t.Errorf("unknown token mutated state")
	}
}

func TestResetOnlyOnePending(t *testing.T) {
	svc, _, _ := testService(t)

	if _, err := svc.BeginReset(context.Background()); err != nil {
		t.Fatalf("begin reset: %v", err)
	}
	if _, err := svc.BeginReset(context.Background()); err == nil {
		t.Fatalf("expected error for second pending reset")
	}
}

func TestResetReopensAfterExpiry(t *testing.T) {
	svc, _, _ := testService(t)

	if _, err := svc.BeginReset(context.Background()); err != nil {
		t.Fatalf("begin reset: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(time.Minute) }

	if _, err := svc.BeginReset(context.Background()); err != nil {
		t.Fatalf("expired window must allow a new reset: %v", err)
	}
}

package notify

import (
	"context"
	"fmt"
	"strconv"

	"raffleflow/models"
)

// Notifier delivers human-readable event notifications to an external
// channel. Delivery is best effort: callers log failures and carry on.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Noop discards all notifications. Used when no webhook is configured.
type Noop struct{}

func (Noop) Notify(ctx context.Context, text string) error { return nil }

// FormatAward renders the ticket award announcement for a single donation.
func FormatAward(ev models.AwardEvent) string {
	mention := ev.Handle
	if mention == "" {
		mention = fmt.Sprintf("User [%s]", ev.SenderID)
	}
	return fmt.Sprintf(
		"🎟️ **TICKET UPDATE**\n%s sent items worth **$%s**\n**+%d Tickets** (Total: %d)",
		mention, comma(ev.Value), ev.Tickets, ev.TotalTickets,
	)
}

// comma formats n with thousands separators.
func comma(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	if neg {
		return "-" + s
	}
	return s
}

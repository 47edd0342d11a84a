package models

// LogItem is a single item line inside a donation log entry.
type LogItem struct {
	ID  string `json:"id"`
	Qty int64  `json:"qty"`
}

// LogEntry represents one entry from the monitored account's activity log.
// The source API returns entries unordered; Timestamp is a unix timestamp in
// seconds and is the only ordering key.
type LogEntry struct {
	Timestamp int64     `json:"timestamp"`
	Category  int       `json:"log"`
	Message   string    `json:"message"`
	SenderID  string    `json:"sender"`
	Items     []LogItem `json:"items"`
}

// PriceTable maps an item ID to its unit value in game currency. Missing IDs
// value to zero. The table is replaced wholesale on every refresh, never
// merged.
type PriceTable map[string]int64

// LedgerMeta carries the ingestion cursor and aggregate pool accounting.
// LastLogTimestamp never rewinds, not even across a round reset.
type LedgerMeta struct {
	LastLogTimestamp int64  `json:"last_log_ts"`
	TotalPoolValue   int64  `json:"total_pool_value"`
	RoundID          string `json:"round_id"`
}

// Ledger is the persisted raffle state: the cursor, the pool accumulator and
// per-account ticket counts. It is saved as one atomic document so a crash
// can never split the cursor from the credits it depends on.
type Ledger struct {
	Meta    LedgerMeta       `json:"meta"`
	Tickets map[string]int64 `json:"tickets"`
}

// NewLedger returns an empty ledger with an initialized ticket map.
func NewLedger() Ledger {
	return Ledger{Tickets: make(map[string]int64)}
}

// Links maps an external account ID to a notification handle (e.g. a Discord
// mention). Maintained by the command surface, read by the engine only to
// resolve a display name.
type Links map[string]string

// PoolStats is the aggregate view of the current round.
type PoolStats struct {
	TotalValue   int64 `json:"total_value"`
	TotalTickets int64 `json:"total_tickets"`
	Participants int   `json:"participants"`
}

// AwardEvent describes a single ticket award, emitted once per qualifying
// donation that earned at least one ticket.
type AwardEvent struct {
	SenderID     string `json:"sender_id"`
	Handle       string `json:"handle"`
	Value        int64  `json:"value"`
	Tickets      int64  `json:"tickets"`
	TotalTickets int64  `json:"total_tickets"`
	Timestamp    int64  `json:"timestamp"`
}

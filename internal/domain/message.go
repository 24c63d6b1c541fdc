package domain

import "time"

type Message struct {
	ID             int64
	UserExternalID int64
	ChatExternalID int64
	Content        string
	ModelResponse  *string
	IsCleared      bool
	CreatedAt      time.Time
	DeletedAt      *time.Time
}

// NewMessage is the user turn appended by RecordExchange.
type NewMessage struct {
	UserExternalID int64
	ChatExternalID int64
	Content        string
}

// HistoryEntry is one prior turn as seen by context assembly. A single entry
// with both fields nil means the pair has no history at all.
type HistoryEntry struct {
	Content  *string
	Response *string
}

func (e HistoryEntry) IsSentinel() bool {
	return e.Content == nil && e.Response == nil
}

// NoHistory is what history reads return instead of an empty slice.
func NoHistory() []HistoryEntry {
	return []HistoryEntry{{}}
}

// IsEmptyHistory reports whether entries is empty or the no-history sentinel.
func IsEmptyHistory(entries []HistoryEntry) bool {
	return len(entries) == 0 || (len(entries) == 1 && entries[0].IsSentinel())
}

package domain

import "time"

// Chat is keyed by the platform's chat id. Forum topics share their parent chat.
type Chat struct {
	ExternalID int64
	CreatedAt  time.Time
	DeletedAt  *time.Time
}

func (c *Chat) IsActive() bool {
	return c.DeletedAt == nil
}

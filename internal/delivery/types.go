package delivery

import "time"

// MaxTextLen is the longest message text accepted for scheduling.
// Telegram caps sendMessage at 4096; 4000 leaves headroom for entities.
const MaxTextLen = 4000

// DestinationPrefix is the required prefix of a Telegram channel id
// (supergroup/channel ids look like "-100123456789").
const DestinationPrefix = "-100"

// Channel is a named destination.
// Name is stored lowercased and matched case-insensitively.
type Channel struct {
	Name          string `json:"name"`
	DestinationID string `json:"destination_id"`
}

// Delivery is one scheduled, single-shot message send.
//
// Active toggles whether the send happens at fire time; a disabled
// delivery is still consumed when its timer fires (one-shot semantics,
// there is no re-arm path). A retired delivery is removed from the store
// entirely rather than flagged.
type Delivery struct {
	ID              string    `json:"id"`
	RequesterChatID int64     `json:"requester_chat_id"`
	ChannelName     string    `json:"channel"`
	Text            string    `json:"text"`
	DueAt           time.Time `json:"due_at"`
	CreatedAt       time.Time `json:"created_at"`
	Active          bool      `json:"active"`
}

package domain

import "time"

// Live event types delivered by the upstream ingestion collaborator.
const (
	EventGift      = "gift"
	EventFollow    = "follow"
	EventShare     = "share"
	EventSubscribe = "subscribe"
	EventLike      = "like"
	EventJoin      = "join"
)

// LiveEvent is one categorical event from the live stream. Coins carries
// the gift value, Count the like/repeat count; both are zero for event
// types that do not use them.
type LiveEvent struct {
	Type        string    `json:"type"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	GiftName    string    `json:"gift_name,omitempty"`
	Coins       int       `json:"coins,omitempty"`
	RepeatCount int       `json:"repeat_count,omitempty"`
	Count       int       `json:"count,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
}

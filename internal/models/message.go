package models

import "time"

// Message status values. Status only ever advances SENT -> READ.
const (
	StatusSent = "SENT"
	StatusRead = "READ"
)

// ContentTypeText is the only content type clients currently produce.
const ContentTypeText = "TEXT"

// ChatMessage represents a single message within a chat room, stored in Redis.
// Immutable after creation except for Status.
type ChatMessage struct {
	ID          string    `json:"id"` // ULID, orders by creation time
	ChatRoomID  int64     `json:"chatRoomId"`
	SenderID    int64     `json:"senderId"`
	Content     string    `json:"content"`
	ContentType string    `json:"contentType"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

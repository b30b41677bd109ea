package ws

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Frame types exchanged over the realtime connection.
const (
	TypeSubscribe = "subscribe" // client -> server: attach to a feed
	TypeSend      = "send"      // client -> server: publish to a destination
	TypeMessage   = "message"   // server -> client: feed event
)

// Well-known destinations. Room feeds are per-room topics. The receipt and
// personal feeds are private per-user queues addressed without a user id;
// the server scopes them to the authenticated connection.
const (
	DestReadReceipts = "queue.read-receipts"
	DestPersonal     = "user-queue.messages"
	DestChatSend     = "app.chat.send"

	roomTopicPrefix = "topic.chat.room."
)

// Frame is the JSON envelope for every realtime exchange.
type Frame struct {
	Type        string          `json:"type"`
	Destination string          `json:"destination"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// SendPayload is the body of a message-creation publish.
type SendPayload struct {
	ChatRoomID  int64  `json:"chatRoomId"`
	Content     string `json:"content"`
	ContentType string `json:"contentType"`
}

// Notification is the personal-feed payload announcing out-of-band activity.
type Notification struct {
	Type       string `json:"type"`
	ChatRoomID int64  `json:"chatRoomId"`
	SenderID   int64  `json:"senderId"`
}

// RoomTopic returns the room feed destination for a room.
func RoomTopic(roomID int64) string {
	return fmt.Sprintf("%s%d", roomTopicPrefix, roomID)
}

// ParseRoomTopic extracts the room id from a room feed destination.
func ParseRoomTopic(dest string) (int64, bool) {
	if !strings.HasPrefix(dest, roomTopicPrefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(dest[len(roomTopicPrefix):], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

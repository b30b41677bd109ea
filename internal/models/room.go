package models

import "time"

// ChatRoom pairs exactly two users over exactly one flat listing.
// At most one room exists per (flat, owner, interested user) triple;
// re-resolving returns the same room.
type ChatRoom struct {
	ID               int64     `json:"id"`
	FlatID           int64     `json:"flatId"`
	OwnerID          int64     `json:"ownerId"`
	InterestedUserID int64     `json:"interestedUserId"`
	CreatedAt        time.Time `json:"createdAt"`
}

// RoomSummary is a room annotated for the conversation-list view.
type RoomSummary struct {
	ID               int64  `json:"id"`
	FlatID           int64  `json:"flatId"`
	OwnerID          int64  `json:"ownerId"`
	InterestedUserID int64  `json:"interestedUserId"`
	Address          string `json:"address"`
	ChatWithUserName string `json:"chatWithUserName"`
}

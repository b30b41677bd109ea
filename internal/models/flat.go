package models

import "time"

// Flat is the minimal listing record the chat service needs: who owns it
// and the address shown in the conversation list.
type Flat struct {
	ID        int64     `json:"id"`
	OwnerID   int64     `json:"ownerId"`
	Address   string    `json:"address"`
	Rent      int64     `json:"rent,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

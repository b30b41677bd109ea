package store

import (
	"context"

	"github.com/4k-champ/cozy-flat-match/internal/models"
)

// DataStore defines the interface for persistent storage of users, flats and
// chat rooms. PostgresStore implements it; handler tests use an in-memory fake.
// Lookups signal absence with a nil record and a nil error.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	CreateUser(ctx context.Context, email, name, passwordHash string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)

	// Flat operations
	CreateFlat(ctx context.Context, ownerID int64, address string, rent int64) (*models.Flat, error)
	GetFlat(ctx context.Context, id int64) (*models.Flat, error)
	ListFlats(ctx context.Context, limit, offset int) ([]models.Flat, error)

	// Chat room operations
	GetOrCreateRoom(ctx context.Context, flatID, ownerID, interestedUserID int64) (*models.ChatRoom, bool, error)
	GetRoom(ctx context.Context, id int64) (*models.ChatRoom, error)
	FindRoomForUser(ctx context.Context, flatID, userID int64) (*models.ChatRoom, error)
	ListRoomsForUser(ctx context.Context, userID int64) ([]models.RoomSummary, error)
}

// MessageStore defines the interface for message persistence and read state.
// RedisStore implements it.
type MessageStore interface {
	Close() error
	Ping(ctx context.Context) error

	AddMessage(ctx context.Context, msg *models.ChatMessage) error
	GetRoomMessages(ctx context.Context, roomID int64) ([]models.ChatMessage, error)
	// MarkRead transitions every SENT message in the room not sent by readerID
	// to READ and returns the messages that changed. Calling it with nothing
	// unread is a no-op.
	MarkRead(ctx context.Context, roomID, readerID int64) ([]models.ChatMessage, error)
}

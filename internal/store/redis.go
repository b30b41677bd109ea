package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/4k-champ/cozy-flat-match/internal/metrics"
	"github.com/4k-champ/cozy-flat-match/internal/models"
)

const rateLimitWindow = time.Minute

// RedisStore handles Redis operations for messages and rate limiting.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying client for middleware that shares the pool.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func observeRedis(start time.Time) {
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
}

// roomMessagesKey returns the key of a room's message hash (id -> JSON).
func roomMessagesKey(roomID int64) string {
	return fmt.Sprintf("chat:room:%d:messages", roomID)
}

// roomOrderKey returns the key of a room's ordering sorted set.
func roomOrderKey(roomID int64) string {
	return fmt.Sprintf("chat:room:%d:order", roomID)
}

// rateLimitKey returns the key of a user's message rate counter.
func rateLimitKey(userID int64) string {
	return fmt.Sprintf("chat:ratelimit:%d", userID)
}

// AddMessage stores a message. The store assigns the id, the timestamp and
// the initial SENT status; ULIDs keep ids ordered by creation time.
func (s *RedisStore) AddMessage(ctx context.Context, msg *models.ChatMessage) error {
	defer observeRedis(time.Now())

	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Status == "" {
		msg.Status = models.StatusSent
	}
	if msg.ContentType == "" {
		msg.ContentType = models.ContentTypeText
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, roomMessagesKey(msg.ChatRoomID), msg.ID, string(data))
	pipe.ZAdd(ctx, roomOrderKey(msg.ChatRoomID), redis.Z{
		Score:  float64(msg.CreatedAt.UnixMilli()),
		Member: msg.ID,
	})
	_, err = pipe.Exec(ctx)
	return err
}

// GetRoomMessages retrieves all messages in a room in creation order.
func (s *RedisStore) GetRoomMessages(ctx context.Context, roomID int64) ([]models.ChatMessage, error) {
	defer observeRedis(time.Now())

	ids, err := s.client.ZRange(ctx, roomOrderKey(roomID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.ChatMessage{}, nil
	}

	values, err := s.client.HMGet(ctx, roomMessagesKey(roomID), ids...).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.ChatMessage, 0, len(values))
	for _, v := range values {
		data, ok := v.(string)
		if !ok {
			continue
		}
		var msg models.ChatMessage
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// MarkRead transitions every SENT message not sent by readerID to READ and
// returns the changed messages. A room with nothing unread is a no-op.
func (s *RedisStore) MarkRead(ctx context.Context, roomID, readerID int64) ([]models.ChatMessage, error) {
	defer observeRedis(time.Now())

	all, err := s.client.HGetAll(ctx, roomMessagesKey(roomID)).Result()
	if err != nil {
		return nil, err
	}

	var updated []models.ChatMessage
	pipe := s.client.Pipeline()
	for id, data := range all {
		var msg models.ChatMessage
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		if msg.SenderID == readerID || msg.Status != models.StatusSent {
			continue
		}

		msg.Status = models.StatusRead
		out, err := json.Marshal(&msg)
		if err != nil {
			continue
		}
		pipe.HSet(ctx, roomMessagesKey(roomID), id, string(out))
		updated = append(updated, msg)
	}

	if len(updated) == 0 {
		return nil, nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	metrics.MessagesRead.Add(float64(len(updated)))
	return updated, nil
}

// CheckRateLimit reports whether the user is under the per-minute message cap.
func (s *RedisStore) CheckRateLimit(ctx context.Context, userID int64, limit int) (bool, error) {
	count, err := s.client.Get(ctx, rateLimitKey(userID)).Int()
	if err != nil && err != redis.Nil {
		return false, err
	}
	return count < limit, nil
}

// IncrementRateLimit increments the user's message counter.
func (s *RedisStore) IncrementRateLimit(ctx context.Context, userID int64) error {
	key := rateLimitKey(userID)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, rateLimitWindow)
	_, err := pipe.Exec(ctx)
	return err
}

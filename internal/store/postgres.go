package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/4k-champ/cozy-flat-match/internal/metrics"
	"github.com/4k-champ/cozy-flat-match/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func observePg(start time.Time) {
	metrics.PostgresLatency.Observe(time.Since(start).Seconds())
}

// CreateUser creates a new user record.
func (s *PostgresStore) CreateUser(ctx context.Context, email, name, passwordHash string) (*models.User, error) {
	defer observePg(time.Now())

	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (email, name, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, email, name, password_hash, created_at
	`, email, name, passwordHash).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	defer observePg(time.Now())

	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, name, password_hash, created_at
		FROM users WHERE email = $1
	`, email).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// GetUserByID retrieves a user by id.
func (s *PostgresStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	defer observePg(time.Now())

	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, name, password_hash, created_at
		FROM users WHERE id = $1
	`, id).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// CreateFlat creates a new flat listing record.
func (s *PostgresStore) CreateFlat(ctx context.Context, ownerID int64, address string, rent int64) (*models.Flat, error) {
	defer observePg(time.Now())

	flat := &models.Flat{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO flats (owner_id, address, rent)
		VALUES ($1, $2, $3)
		RETURNING id, owner_id, address, rent, created_at
	`, ownerID, address, rent).Scan(
		&flat.ID,
		&flat.OwnerID,
		&flat.Address,
		&flat.Rent,
		&flat.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return flat, nil
}

// GetFlat retrieves a flat by id.
func (s *PostgresStore) GetFlat(ctx context.Context, id int64) (*models.Flat, error) {
	defer observePg(time.Now())

	flat := &models.Flat{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, address, rent, created_at
		FROM flats WHERE id = $1
	`, id).Scan(
		&flat.ID,
		&flat.OwnerID,
		&flat.Address,
		&flat.Rent,
		&flat.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return flat, nil
}

// ListFlats retrieves flat listings, newest first.
func (s *PostgresStore) ListFlats(ctx context.Context, limit, offset int) ([]models.Flat, error) {
	defer observePg(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, address, rent, created_at
		FROM flats
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flats []models.Flat
	for rows.Next() {
		var flat models.Flat
		err := rows.Scan(
			&flat.ID,
			&flat.OwnerID,
			&flat.Address,
			&flat.Rent,
			&flat.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		flats = append(flats, flat)
	}

	return flats, rows.Err()
}

// GetOrCreateRoom returns the room for the given triple, creating it if it
// does not exist. The boolean result reports whether a new room was created.
// The unique index on (flat_id, owner_id, interested_user_id) makes the
// create-or-get race-safe: a concurrent insert loses the conflict and the
// follow-up select returns the winner's row.
func (s *PostgresStore) GetOrCreateRoom(ctx context.Context, flatID, ownerID, interestedUserID int64) (*models.ChatRoom, bool, error) {
	defer observePg(time.Now())

	room := &models.ChatRoom{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO chat_rooms (flat_id, owner_id, interested_user_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (flat_id, owner_id, interested_user_id) DO NOTHING
		RETURNING id, flat_id, owner_id, interested_user_id, created_at
	`, flatID, ownerID, interestedUserID).Scan(
		&room.ID,
		&room.FlatID,
		&room.OwnerID,
		&room.InterestedUserID,
		&room.CreatedAt,
	)
	if err == nil {
		return room, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	err = s.pool.QueryRow(ctx, `
		SELECT id, flat_id, owner_id, interested_user_id, created_at
		FROM chat_rooms
		WHERE flat_id = $1 AND owner_id = $2 AND interested_user_id = $3
	`, flatID, ownerID, interestedUserID).Scan(
		&room.ID,
		&room.FlatID,
		&room.OwnerID,
		&room.InterestedUserID,
		&room.CreatedAt,
	)
	if err != nil {
		return nil, false, err
	}
	return room, false, nil
}

// GetRoom retrieves a chat room by id.
func (s *PostgresStore) GetRoom(ctx context.Context, id int64) (*models.ChatRoom, error) {
	defer observePg(time.Now())

	room := &models.ChatRoom{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, flat_id, owner_id, interested_user_id, created_at
		FROM chat_rooms WHERE id = $1
	`, id).Scan(
		&room.ID,
		&room.FlatID,
		&room.OwnerID,
		&room.InterestedUserID,
		&room.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return room, nil
}

// FindRoomForUser finds the room for a flat where the user is a participant.
// Used when a room is resolved without an explicit counterpart.
func (s *PostgresStore) FindRoomForUser(ctx context.Context, flatID, userID int64) (*models.ChatRoom, error) {
	defer observePg(time.Now())

	room := &models.ChatRoom{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, flat_id, owner_id, interested_user_id, created_at
		FROM chat_rooms
		WHERE flat_id = $1 AND (owner_id = $2 OR interested_user_id = $2)
		ORDER BY created_at
		LIMIT 1
	`, flatID, userID).Scan(
		&room.ID,
		&room.FlatID,
		&room.OwnerID,
		&room.InterestedUserID,
		&room.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return room, nil
}

// ListRoomsForUser retrieves all rooms the user participates in, annotated
// with the flat address and the counterpart's display name.
func (s *PostgresStore) ListRoomsForUser(ctx context.Context, userID int64) ([]models.RoomSummary, error) {
	defer observePg(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.flat_id, r.owner_id, r.interested_user_id, f.address,
		       CASE WHEN r.owner_id = $1 THEN iu.name ELSE ou.name END
		FROM chat_rooms r
		JOIN flats f ON f.id = r.flat_id
		JOIN users ou ON ou.id = r.owner_id
		JOIN users iu ON iu.id = r.interested_user_id
		WHERE r.owner_id = $1 OR r.interested_user_id = $1
		ORDER BY r.created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []models.RoomSummary
	for rows.Next() {
		var room models.RoomSummary
		err := rows.Scan(
			&room.ID,
			&room.FlatID,
			&room.OwnerID,
			&room.InterestedUserID,
			&room.Address,
			&room.ChatWithUserName,
		)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}

	return rooms, rows.Err()
}

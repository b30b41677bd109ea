package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            BIGSERIAL PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS flats (
	id         BIGSERIAL PRIMARY KEY,
	owner_id   BIGINT NOT NULL REFERENCES users(id),
	address    TEXT NOT NULL,
	rent       BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS chat_rooms (
	id                 BIGSERIAL PRIMARY KEY,
	flat_id            BIGINT NOT NULL REFERENCES flats(id),
	owner_id           BIGINT NOT NULL REFERENCES users(id),
	interested_user_id BIGINT NOT NULL REFERENCES users(id),
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (flat_id, owner_id, interested_user_id)
);

CREATE INDEX IF NOT EXISTS idx_chat_rooms_owner ON chat_rooms(owner_id);
CREATE INDEX IF NOT EXISTS idx_chat_rooms_interested ON chat_rooms(interested_user_id);
`

// RunMigrations applies the schema. Statements are idempotent so this is
// safe to run on every startup.
func RunMigrations(databaseURL string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx, schema)
	return err
}

// Package store persists users, class rooms, memberships and messages in
// PostgreSQL. Each store is a thin query layer over a shared pgx pool; the
// hub only ever sees the narrow interfaces defined in domain.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrEmailTaken         = errors.New("email is already registered")
	ErrNotTeacher         = errors.New("only teachers can create classes")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id SERIAL PRIMARY KEY,
    name VARCHAR(120) NOT NULL,
    email VARCHAR(200) NOT NULL,
    password_hash TEXT NOT NULL,
    role INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS ix_users_email ON users (email);

CREATE TABLE IF NOT EXISTS class_rooms (
    id SERIAL PRIMARY KEY,
    name VARCHAR(150) NOT NULL,
    teacher_id INTEGER NOT NULL REFERENCES users (id) ON DELETE RESTRICT
);
CREATE INDEX IF NOT EXISTS ix_class_rooms_teacher_id ON class_rooms (teacher_id);

CREATE TABLE IF NOT EXISTS class_members (
    id SERIAL PRIMARY KEY,
    user_id INTEGER NOT NULL REFERENCES users (id) ON DELETE CASCADE,
    class_room_id INTEGER NOT NULL REFERENCES class_rooms (id) ON DELETE CASCADE
);
CREATE UNIQUE INDEX IF NOT EXISTS ix_class_members_user_id_class_room_id ON class_members (user_id, class_room_id);
CREATE INDEX IF NOT EXISTS ix_class_members_class_room_id ON class_members (class_room_id);

CREATE TABLE IF NOT EXISTS messages (
    id SERIAL PRIMARY KEY,
    class_room_id INTEGER NOT NULL REFERENCES class_rooms (id) ON DELETE CASCADE,
    user_id INTEGER NOT NULL REFERENCES users (id) ON DELETE RESTRICT,
    text VARCHAR(2000) NOT NULL,
    sent_at TIMESTAMP WITHOUT TIME ZONE NOT NULL
);
CREATE INDEX IF NOT EXISTS ix_messages_user_id ON messages (user_id);
CREATE INDEX IF NOT EXISTS ix_messages_class_room_id ON messages (class_room_id);
`

// Connect opens a pool against dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates all tables and indexes when missing. Safe to run on
// every startup.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	return nil
}

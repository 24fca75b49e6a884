package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"classin-server/domain"
)

type Users struct {
	pool *pgxpool.Pool
}

func NewUsers(pool *pgxpool.Pool) *Users {
	return &Users{pool: pool}
}

// Create inserts a new account. Emails are stored lower-cased; a duplicate
// returns ErrEmailTaken.
func (s *Users) Create(ctx context.Context, name, email, passwordHash string, role domain.Role) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`, email).Scan(&exists)
	if err != nil {
		return domain.User{}, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, ErrEmailTaken
	}

	u := domain.User{Name: strings.TrimSpace(name), Email: email, PasswordHash: passwordHash, Role: role}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO users (name, email, password_hash, role)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		u.Name, u.Email, u.PasswordHash, int(u.Role)).Scan(&u.ID)
	if err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *Users) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var u domain.User
	var role int
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, email, password_hash, role FROM users WHERE email = $1`,
		email).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, ErrNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("get user by email: %w", err)
	}
	u.Role = domain.Role(role)
	return u, nil
}

func (s *Users) GetName(ctx context.Context, userID int) (string, error) {
	var name string
	err := s.pool.QueryRow(ctx, `SELECT name FROM users WHERE id = $1`, userID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get user name: %w", err)
	}
	return name, nil
}

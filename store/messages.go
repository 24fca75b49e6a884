package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"classin-server/domain"
)

// Messages persists chat history. SaveMessage implements domain.ChatStore:
// the hub broadcasts only records that made it to the database, with the
// server-assigned id and timestamp.
type Messages struct {
	pool    *pgxpool.Pool
	users   *Users
	classes *Classes
}

func NewMessages(pool *pgxpool.Pool, users *Users, classes *Classes) *Messages {
	return &Messages{pool: pool, users: users, classes: classes}
}

func (s *Messages) SaveMessage(ctx context.Context, userID, classID int, text string) (domain.Message, error) {
	member, err := s.classes.IsMember(ctx, userID, classID)
	if err != nil {
		return domain.Message{}, err
	}
	if !member {
		return domain.Message{}, domain.ErrNotMember
	}

	name, err := s.users.GetName(ctx, userID)
	if err != nil {
		return domain.Message{}, err
	}

	msg := domain.Message{
		ClassID:  classID,
		UserID:   userID,
		UserName: name,
		Text:     strings.TrimSpace(text),
		SentAt:   time.Now().UTC(),
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO messages (class_room_id, user_id, text, sent_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		msg.ClassID, msg.UserID, msg.Text, msg.SentAt).Scan(&msg.ID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// ListForClass returns the class history in send order. Callers must be
// members; the check keeps history private to the room.
func (s *Messages) ListForClass(ctx context.Context, classID, userID int) ([]domain.Message, error) {
	member, err := s.classes.IsMember(ctx, userID, classID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, domain.ErrNotMember
	}

	rows, err := s.pool.Query(ctx,
		`SELECT m.id, m.class_room_id, m.user_id, u.name, m.text, m.sent_at
		 FROM messages m
		 JOIN users u ON u.id = m.user_id
		 WHERE m.class_room_id = $1
		 ORDER BY m.sent_at`, classID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.ClassID, &m.UserID, &m.UserName, &m.Text, &m.SentAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

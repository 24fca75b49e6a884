package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"classin-server/domain"
)

// Classes manages class rooms and their member lists. Its IsMember query is
// the membership gate behind every privileged hub operation, so it is never
// cached: the answer must reflect joins and removals made out-of-band.
type Classes struct {
	pool        *pgxpool.Pool
	roomURLTmpl string
}

func NewClasses(pool *pgxpool.Pool, roomURLTemplate string) *Classes {
	return &Classes{pool: pool, roomURLTmpl: roomURLTemplate}
}

// Create inserts a class owned by teacherID and enrolls the teacher in the
// same transaction. Non-teachers get ErrNotTeacher.
func (s *Classes) Create(ctx context.Context, teacherID int, name string) (domain.ClassRoom, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.ClassRoom{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var role int
	err = tx.QueryRow(ctx, `SELECT role FROM users WHERE id = $1`, teacherID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ClassRoom{}, ErrNotFound
	}
	if err != nil {
		return domain.ClassRoom{}, fmt.Errorf("check role: %w", err)
	}
	if domain.Role(role) != domain.RoleTeacher {
		return domain.ClassRoom{}, ErrNotTeacher
	}

	c := domain.ClassRoom{Name: strings.TrimSpace(name), TeacherID: teacherID}
	err = tx.QueryRow(ctx,
		`INSERT INTO class_rooms (name, teacher_id) VALUES ($1, $2) RETURNING id`,
		c.Name, teacherID).Scan(&c.ID)
	if err != nil {
		return domain.ClassRoom{}, fmt.Errorf("insert class: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO class_members (user_id, class_room_id) VALUES ($1, $2)
		 ON CONFLICT (user_id, class_room_id) DO NOTHING`,
		teacherID, c.ID)
	if err != nil {
		return domain.ClassRoom{}, fmt.Errorf("enroll teacher: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.ClassRoom{}, fmt.Errorf("commit: %w", err)
	}
	c.RoomURL = s.roomURL(c.ID)
	return c, nil
}

// Join enrolls userID in classID. Joining twice is a no-op.
func (s *Classes) Join(ctx context.Context, userID, classID int) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM class_rooms WHERE id = $1)`, classID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check class: %w", err)
	}
	if !exists {
		return ErrNotFound
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO class_members (user_id, class_room_id) VALUES ($1, $2)
		 ON CONFLICT (user_id, class_room_id) DO NOTHING`,
		userID, classID)
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

// ListForUser returns the classes userID teaches or attends, by name.
func (s *Classes) ListForUser(ctx context.Context, userID int) ([]domain.ClassRoom, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT c.id, c.name, c.teacher_id
		 FROM class_rooms c
		 LEFT JOIN class_members cm ON cm.class_room_id = c.id
		 WHERE c.teacher_id = $1 OR cm.user_id = $1
		 ORDER BY c.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list classes: %w", err)
	}
	defer rows.Close()

	classes := []domain.ClassRoom{}
	for rows.Next() {
		var c domain.ClassRoom
		if err := rows.Scan(&c.ID, &c.Name, &c.TeacherID); err != nil {
			return nil, fmt.Errorf("scan class: %w", err)
		}
		c.RoomURL = s.roomURL(c.ID)
		classes = append(classes, c)
	}
	return classes, rows.Err()
}

// IsMember reports whether userID teaches or attends classID. Implements
// domain.MembershipGate.
func (s *Classes) IsMember(ctx context.Context, userID, classID int) (bool, error) {
	var member bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		    SELECT 1
		    FROM class_rooms c
		    LEFT JOIN class_members cm ON cm.class_room_id = c.id
		    WHERE c.id = $1 AND (c.teacher_id = $2 OR cm.user_id = $2)
		 )`, classID, userID).Scan(&member)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return member, nil
}

func (s *Classes) roomURL(classID int) string {
	return strings.ReplaceAll(s.roomURLTmpl, "{classId}", strconv.Itoa(classID))
}

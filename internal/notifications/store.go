package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotificationNotFound is returned when marking an unknown or foreign
// notification as read.
var ErrNotificationNotFound = errors.New("notifications: not found")

// Store persists delivered notifications.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs the store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Insert persists a notification and returns its id.
func (s *Store) Insert(ctx context.Context, n Notification) (int64, error) {
	if err := n.Validate(); err != nil {
		return 0, err
	}
	createdAt := n.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	var id int64
	err := s.pool.QueryRow(ctx, `INSERT INTO notifications (user_id, type, title, message, link, created_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6) RETURNING id`,
		n.UserID, string(n.Type), n.Title, n.Message, n.Link, createdAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("notifications: insert: %w", err)
	}
	return id, nil
}

// ListForUser returns the newest notifications for a user.
func (s *Store) ListForUser(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT id, user_id, type, title, message, COALESCE(link, ''), read_at, created_at
FROM notifications
WHERE user_id = $1 AND (NOT $2 OR read_at IS NULL)
ORDER BY created_at DESC, id DESC
LIMIT $3`, userID, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("notifications: list: %w", err)
	}
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		var n Notification
		var typ string
		if err := rows.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Message, &n.Link, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Type = Type(typ)
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkRead stamps read_at on a notification owned by userID.
func (s *Store) MarkRead(ctx context.Context, id, userID int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE notifications SET read_at = COALESCE(read_at, NOW()) WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("notifications: mark read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

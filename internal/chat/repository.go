package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Store is everything the delivery path and the read endpoints need from
// persistence.
type Store interface {
	SaveMessageWithNotification(ctx context.Context, m *Message, n *Notification) error
	SaveNotification(ctx context.Context, n *Notification) error
	FindMessages(ctx context.Context, filter MessageFilter, page Page) ([]Message, error)
	CountMessages(ctx context.Context, filter MessageFilter) (int, error)
	ListConversations(ctx context.Context, userID string, page Page) ([]Conversation, int, error)
	FindNotifications(ctx context.Context, receiverID string, page Page) ([]Notification, error)
	UpdateMessageStatus(ctx context.Context, id int64, status Status) error
	MarkNotificationRead(ctx context.Context, id int64) error
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SaveMessageWithNotification inserts m and n in one transaction, filling in
// their ids and creation times. Either both rows are stored or neither is.
func (r *Repository) SaveMessageWithNotification(ctx context.Context, m *Message, n *Notification) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertMessage(ctx, tx, m); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if err := insertNotification(ctx, tx, n); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return tx.Commit()
}

// SaveNotification inserts n. A notification whose SourceRef was already
// stored is not inserted again and ErrDuplicate is returned.
func (r *Repository) SaveNotification(ctx context.Context, n *Notification) error {
	return insertNotification(ctx, r.db, n)
}

func insertMessage(ctx context.Context, q querier, m *Message) error {
	if m.Status == "" {
		m.Status = StatusSent
	}
	query := `INSERT INTO messages (sender_id, receiver_id, content, image, status)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, created_at`

	return q.QueryRowContext(ctx, query,
		m.SenderID, m.ReceiverID, m.Content, nullString(m.Image), string(m.Status),
	).Scan(&m.ID, &m.CreatedAt)
}

func insertNotification(ctx context.Context, q querier, n *Notification) error {
	query := `INSERT INTO notifications (sender_id, receiver_id, content, image, source_ref, created_at)
        VALUES ($1, $2, $3, $4, $5, COALESCE($6::timestamptz, now()))
        ON CONFLICT (source_ref) DO NOTHING
        RETURNING id, created_at, read`

	err := q.QueryRowContext(ctx, query,
		nullString(n.SenderID), n.ReceiverID, n.Content, nullString(n.Image), nullString(n.SourceRef), nullTime(n.CreatedAt),
	).Scan(&n.ID, &n.CreatedAt, &n.Read)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrDuplicate, n.SourceRef)
	}
	return err
}

func (r *Repository) FindMessages(ctx context.Context, filter MessageFilter, page Page) ([]Message, error) {
	query := `
		SELECT id, sender_id, receiver_id, content, image, status, created_at
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2)
		   OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at DESC, id DESC
		OFFSET $3 LIMIT $4
	`
	rows, err := r.db.QueryContext(ctx, query, filter.UserA, filter.UserB, page.Skip, page.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var (
			msg    Message
			image  sql.NullString
			status string
		)
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Content, &image, &status, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.Image = image.String
		msg.Status = Status(status)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (r *Repository) CountMessages(ctx context.Context, filter MessageFilter) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2)
		   OR (sender_id = $2 AND receiver_id = $1)
	`
	var total int
	err := r.db.QueryRowContext(ctx, query, filter.UserA, filter.UserB).Scan(&total)
	return total, err
}

// ListConversations returns one row per partner of userID, most recently
// active first, plus the total number of partners.
func (r *Repository) ListConversations(ctx context.Context, userID string, page Page) ([]Conversation, int, error) {
	countQuery := `
		SELECT COUNT(DISTINCT CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END)
		FROM messages
		WHERE sender_id = $1 OR receiver_id = $1
	`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END AS partner_id,
		       MAX(created_at) AS last_at,
		       COUNT(*)
		FROM messages
		WHERE sender_id = $1 OR receiver_id = $1
		GROUP BY partner_id
		ORDER BY last_at DESC
		OFFSET $2 LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, userID, page.Skip, page.Limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	conversations := []Conversation{}
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.PartnerID, &c.LastMessageTimestamp, &c.MessageCount); err != nil {
			return nil, 0, err
		}
		conversations = append(conversations, c)
	}
	return conversations, total, rows.Err()
}

func (r *Repository) FindNotifications(ctx context.Context, receiverID string, page Page) ([]Notification, error) {
	query := `
		SELECT id, sender_id, receiver_id, content, image, read, created_at
		FROM notifications
		WHERE receiver_id = $1
		ORDER BY created_at DESC, id DESC
		OFFSET $2 LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, receiverID, page.Skip, page.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := []Notification{}
	for rows.Next() {
		var (
			n      Notification
			sender sql.NullString
			image  sql.NullString
		)
		if err := rows.Scan(&n.ID, &sender, &n.ReceiverID, &n.Content, &image, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.SenderID = sender.String
		n.Image = image.String
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// UpdateMessageStatus moves a message forward to status. The guard lives in
// the UPDATE so concurrent acknowledgements cannot move it backwards.
func (r *Repository) UpdateMessageStatus(ctx context.Context, id int64, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	query := `UPDATE messages SET status = $2
        WHERE id = $1
          AND CASE status WHEN 'sent' THEN 0 WHEN 'delivered' THEN 1 ELSE 2 END <= $3`
	res, err := r.db.ExecContext(ctx, query, id, string(status), status.rank())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n > 0 {
		return nil
	}

	var current string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM messages WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", ErrStatusRegression, current, status)
}

func (r *Repository) MarkNotificationRead(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET read = true WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("notification %d: %w", id, ErrNotFound)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

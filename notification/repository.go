package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/geraldochiquemba2/biva-imobiliria-sub001/contract"
)

var ErrNotFound = errors.New("notification: not found")

// TxWriter writes notices inside a caller-owned transaction. It is the
// contract engine's NotificationWriter so notices commit or roll back with
// the transition that produced them.
type TxWriter struct{}

func NewTxWriter() *TxWriter {
	return &TxWriter{}
}

func (w *TxWriter) Enqueue(ctx context.Context, tx pgx.Tx, n contract.Notice) error {
	const insertSQL = `
		INSERT INTO notifications (user_id, kind, body, property_id, contract_id)
		VALUES ($1, $2, $3, NULLIF($4, '')::uuid, NULLIF($5, '')::uuid)
	`
	if _, err := tx.Exec(ctx, insertSQL, n.UserID, n.Kind, n.Body, n.PropertyID, n.ContractID); err != nil {
		return fmt.Errorf("notification: enqueue: %w", err)
	}
	return nil
}

// PGRepository serves the inbox reads and the read-flag update.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) ListForUser(ctx context.Context, userID string, unreadOnly bool) ([]Notification, error) {
	query := `
		SELECT id, user_id, kind, body, property_id, contract_id, read, created_at
		FROM notifications
		WHERE user_id = $1
	`
	if unreadOnly {
		query += ` AND read = false`
	}
	query += ` ORDER BY created_at DESC LIMIT 200`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("notification: list: %w", err)
	}
	defer rows.Close()

	out := []Notification{}
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Body, &n.PropertyID, &n.ContractID, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("notification: scan: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notification: iterate: %w", err)
	}
	return out, nil
}

// MarkRead flips one notification to read. The user_id condition keeps a
// user from acknowledging someone else's inbox.
func (r *PGRepository) MarkRead(ctx context.Context, userID, notificationID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications SET read = true
		WHERE id = $1 AND user_id = $2
	`, notificationID, userID)
	if err != nil {
		return fmt.Errorf("notification: mark read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read = false
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("notification: count unread: %w", err)
	}
	return count, nil
}

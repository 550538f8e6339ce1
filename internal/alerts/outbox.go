package alerts

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/coinwatch/internal/database"
	"github.com/aristath/coinwatch/internal/domain"
	"github.com/rs/zerolog"
)

// OutboxRepository persists queued chat messages. The fingerprint unique index
// makes enqueueing idempotent: a retried evaluation tick re-queues nothing.
type OutboxRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewOutboxRepository creates an outbox repository on the watch database.
func NewOutboxRepository(db *database.DB, log zerolog.Logger) *OutboxRepository {
	return &OutboxRepository{
		db:  db,
		log: log.With().Str("component", "outbox_repository").Logger(),
	}
}

// Enqueue adds a message for delivery. Returns false when the fingerprint is
// already queued, which is the success path for duplicate publishes.
func (r *OutboxRepository) Enqueue(msg *domain.OutboxMessage) (bool, error) {
	ts := msg.Timestamp
	if ts == 0 {
		ts = time.Now().UTC().Unix()
	}

	result, err := r.db.Exec(`
		INSERT INTO outbox (ts, chat_id, text, fingerprint, sent_ok, failed_permanently, attempts)
		VALUES (?, ?, ?, ?, 0, 0, 0)
		ON CONFLICT(fingerprint) DO NOTHING
	`, ts, msg.ChatID, msg.Text, msg.Fingerprint)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue message: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check enqueue result: %w", err)
	}
	return affected == 1, nil
}

// PendingBatch returns up to limit undelivered messages, oldest first.
func (r *OutboxRepository) PendingBatch(limit int) ([]domain.OutboxMessage, error) {
	rows, err := r.db.Query(`
		SELECT id, ts, chat_id, text, fingerprint, sent_ok, sent_ts, failed_permanently, attempts
		FROM outbox
		WHERE sent_ok = 0 AND failed_permanently = 0
		ORDER BY ts ASC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending messages: %w", err)
	}
	return scanOutboxRows(rows)
}

// MarkSent records a successful delivery.
func (r *OutboxRepository) MarkSent(id, sentAt int64) error {
	_, err := r.db.Exec(`
		UPDATE outbox SET sent_ok = 1, sent_ts = ?, attempts = attempts + 1 WHERE id = ?
	`, sentAt, id)
	if err != nil {
		return fmt.Errorf("failed to mark message sent: %w", err)
	}
	return nil
}

// MarkAttempt counts a transient failure; the message stays pending.
func (r *OutboxRepository) MarkAttempt(id int64) error {
	_, err := r.db.Exec(`UPDATE outbox SET attempts = attempts + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to record send attempt: %w", err)
	}
	return nil
}

// MarkFailedPermanently parks a message that will never deliver.
func (r *OutboxRepository) MarkFailedPermanently(id int64) error {
	_, err := r.db.Exec(`
		UPDATE outbox SET failed_permanently = 1, attempts = attempts + 1 WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to mark message failed: %w", err)
	}
	return nil
}

// PendingCount returns the undelivered backlog size.
func (r *OutboxRepository) PendingCount() (int64, error) {
	var count int64
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM outbox WHERE sent_ok = 0 AND failed_permanently = 0
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending messages: %w", err)
	}
	return count, nil
}

// Get returns one message by id, or nil when absent.
func (r *OutboxRepository) Get(id int64) (*domain.OutboxMessage, error) {
	rows, err := r.db.Query(`
		SELECT id, ts, chat_id, text, fingerprint, sent_ok, sent_ts, failed_permanently, attempts
		FROM outbox WHERE id = ?
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	messages, err := scanOutboxRows(rows)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, nil
	}
	return &messages[0], nil
}

// CountDeliveredBefore returns how many delivered messages a purge at the
// given cutoff would remove.
func (r *OutboxRepository) CountDeliveredBefore(cutoff int64) (int64, error) {
	var count int64
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM outbox WHERE sent_ok = 1 AND ts < ?
	`, cutoff).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count delivered messages: %w", err)
	}
	return count, nil
}

// PurgeDelivered deletes delivered messages older than cutoff and returns how
// many rows went.
func (r *OutboxRepository) PurgeDelivered(cutoff int64) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM outbox WHERE sent_ok = 1 AND ts < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge delivered messages: %w", err)
	}
	purged, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged messages: %w", err)
	}
	return purged, nil
}

func scanOutboxRows(rows *sql.Rows) ([]domain.OutboxMessage, error) {
	defer rows.Close()

	var messages []domain.OutboxMessage
	for rows.Next() {
		var msg domain.OutboxMessage
		var sentTs sql.NullInt64

		err := rows.Scan(&msg.ID, &msg.Timestamp, &msg.ChatID, &msg.Text, &msg.Fingerprint,
			&msg.SentOk, &sentTs, &msg.FailedPermanently, &msg.Attempts)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox message: %w", err)
		}

		if sentTs.Valid {
			msg.SentTimestamp = &sentTs.Int64
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

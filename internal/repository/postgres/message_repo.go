package postgres

import (
	"context"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/quietwire/relay/internal/errs"
	"github.com/quietwire/relay/internal/model"
)

// MessageRepo implements MessageRepository using PostgreSQL.
type MessageRepo struct{ db *DB }

// NewMessageRepo constructs a message repository.
func NewMessageRepo(db *DB) *MessageRepo { return &MessageRepo{db: db} }

// Save inserts the message and every payload row in one transaction. The
// client-supplied fan-out set is authoritative for this send; devices that
// joined later recover via History.
func (r *MessageRepo) Save(ctx context.Context, m *model.Message, payloads []model.MessagePayload) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const insMessage = `
INSERT INTO messages (id, channel_id, sender_id, sender_device_id)
VALUES ($1, $2, $3, $4)`
	if _, err = tx.Exec(ctx, insMessage, m.ID, m.ChannelID, m.SenderID, m.SenderDeviceID); err != nil {
		if isUniqueViolation(err) {
			return errs.ErrConflict
		}
		return err
	}

	const insPayload = `
INSERT INTO message_payloads (message_id, recipient_device_id, ciphertext, is_pre_key)
VALUES ($1, $2, $3, $4)`
	for _, p := range payloads {
		if _, err = tx.Exec(ctx, insPayload, m.ID, p.RecipientDeviceID, p.Ciphertext, p.IsPreKey); err != nil {
			if isForeignKeyViolation(err) {
				return errs.ErrNotFound
			}
			return err
		}
	}
	return nil
}

// History returns payloads addressed to deviceID for messages in channelID
// with id greater than after, ascending by message id. Message ids are
// UUIDv7, so this order is creation order with no timestamp tie-break.
func (r *MessageRepo) History(ctx context.Context, channelID, deviceID, after uuid.UUID) ([]model.HistoryEntry, error) {
	const q = `
SELECT m.id, m.channel_id, m.sender_id, m.sender_device_id, p.ciphertext, p.is_pre_key, m.created_at
FROM messages m
JOIN message_payloads p ON p.message_id = m.id AND p.recipient_device_id = $2
WHERE m.channel_id = $1 AND m.id > $3
ORDER BY m.id ASC`
	rows, err := r.db.Pool.Query(ctx, q, channelID, deviceID, after)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.HistoryEntry
	for rows.Next() {
		var e model.HistoryEntry
		if err = rows.Scan(&e.MessageID, &e.ChannelID, &e.SenderID, &e.SenderDeviceID,
			&e.Ciphertext, &e.IsPreKey, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

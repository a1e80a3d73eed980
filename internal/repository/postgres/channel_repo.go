package postgres

import (
	"context"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/quietwire/relay/internal/errs"
	"github.com/quietwire/relay/internal/model"
)

// ChannelRepo implements ChannelRepository using PostgreSQL.
type ChannelRepo struct{ db *DB }

// NewChannelRepo constructs a channel repository.
func NewChannelRepo(db *DB) *ChannelRepo { return &ChannelRepo{db: db} }

// Create inserts the channel row and one participant row per user atomically.
func (r *ChannelRepo) Create(ctx context.Context, ch *model.Channel, participantIDs []uuid.UUID) (err error) {
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

	const insChannel = `INSERT INTO channels (id) VALUES ($1)`
	if _, err = tx.Exec(ctx, insChannel, ch.ID); err != nil {
		return err
	}

	const insParticipant = `
INSERT INTO channel_participants (channel_id, user_id) VALUES ($1, $2)`
	for _, userID := range participantIDs {
		if _, err = tx.Exec(ctx, insParticipant, ch.ID, userID); err != nil {
			if isForeignKeyViolation(err) {
				return errs.ErrNotFound
			}
			return err
		}
	}
	return nil
}

// GetInfo returns the participant users and the union of their devices.
func (r *ChannelRepo) GetInfo(ctx context.Context, channelID uuid.UUID) (*model.ChannelInfo, error) {
	const qUsers = `
SELECT u.id, u.username, u.created_at
FROM channel_participants cp
JOIN users u ON u.id = cp.user_id
WHERE cp.channel_id=$1
ORDER BY u.id ASC`
	rows, err := r.db.Pool.Query(ctx, qUsers, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	info := &model.ChannelInfo{ID: channelID}
	for rows.Next() {
		var u model.User
		if err = rows.Scan(&u.ID, &u.Username, &u.CreatedAt); err != nil {
			return nil, err
		}
		info.Participants = append(info.Participants, u)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	if len(info.Participants) == 0 {
		return nil, errs.ErrNotFound
	}

	const qDevices = `
SELECT d.id, d.user_id, d.verify_key, d.agreement_key, d.created_at
FROM channel_participants cp
JOIN devices d ON d.user_id = cp.user_id
WHERE cp.channel_id=$1
ORDER BY d.id ASC`
	devRows, err := r.db.Pool.Query(ctx, qDevices, channelID)
	if err != nil {
		return nil, err
	}
	defer devRows.Close()

	for devRows.Next() {
		var d model.Device
		if err = devRows.Scan(&d.ID, &d.UserID, &d.VerifyKey, &d.AgreementKey, &d.CreatedAt); err != nil {
			return nil, err
		}
		info.Devices = append(info.Devices, d)
	}
	return info, devRows.Err()
}

// ListByUser returns channels the user participates in, oldest first.
func (r *ChannelRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Channel, error) {
	const q = `
SELECT c.id, c.created_at
FROM channel_participants cp
JOIN channels c ON c.id = cp.channel_id
WHERE cp.user_id=$1
ORDER BY c.id ASC`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Channel
	for rows.Next() {
		var c model.Channel
		if err = rows.Scan(&c.ID, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// IsParticipant reports whether the user belongs to the channel.
func (r *ChannelRepo) IsParticipant(ctx context.Context, channelID, userID uuid.UUID) (bool, error) {
	const q = `
SELECT EXISTS (
    SELECT 1 FROM channel_participants WHERE channel_id=$1 AND user_id=$2
)`
	var ok bool
	if err := r.db.Pool.QueryRow(ctx, q, channelID, userID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/quietwire/relay/internal/errs"
	"github.com/quietwire/relay/internal/model"
)

// PreKeyRepo implements PreKeyRepository using PostgreSQL.
type PreKeyRepo struct{ db *DB }

// NewPreKeyRepo constructs a pre-key repository.
func NewPreKeyRepo(db *DB) *PreKeyRepo { return &PreKeyRepo{db: db} }

// AddBatch appends keys to the device's pool inside one transaction.
// ON CONFLICT DO NOTHING makes duplicate key material a no-op, so clients can
// safely retry replenishment uploads.
func (r *PreKeyRepo) AddBatch(ctx context.Context, deviceID uuid.UUID, batch [][]byte) (err error) {
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

	const q = `
INSERT INTO pre_keys (id, device_id, key) VALUES ($1, $2, $3)
ON CONFLICT (device_id, key) DO NOTHING`
	for _, k := range batch {
		var id uuid.UUID
		if id, err = uuid.NewV7(); err != nil {
			return err
		}
		if _, err = tx.Exec(ctx, q, id, deviceID, k); err != nil {
			if isForeignKeyViolation(err) {
				return errs.ErrNotFound
			}
			return err
		}
	}
	return nil
}

// Claim removes and returns one pre-key from the device's pool in a single
// statement. SKIP LOCKED keeps concurrent claimers from ever selecting the
// same row, so exactly min(claims, pool size) succeed.
func (r *PreKeyRepo) Claim(ctx context.Context, deviceID uuid.UUID) (*model.PreKey, error) {
	const q = `
DELETE FROM pre_keys
WHERE id = (
    SELECT id FROM pre_keys WHERE device_id=$1
    LIMIT 1 FOR UPDATE SKIP LOCKED
)
RETURNING id, device_id, key`
	row := r.db.Pool.QueryRow(ctx, q, deviceID)
	var pk model.PreKey
	if err := row.Scan(&pk.ID, &pk.DeviceID, &pk.Key); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNoKeysAvailable
		}
		return nil, err
	}
	return &pk, nil
}

// Count reports the current pool size for a device.
func (r *PreKeyRepo) Count(ctx context.Context, deviceID uuid.UUID) (int, error) {
	const q = `SELECT COUNT(*) FROM pre_keys WHERE device_id=$1`
	var n int
	if err := r.db.Pool.QueryRow(ctx, q, deviceID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

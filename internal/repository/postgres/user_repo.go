package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/quietwire/relay/internal/errs"
	"github.com/quietwire/relay/internal/model"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

// CreateUser inserts the user and its first device atomically.
func (r *UserRepo) CreateUser(ctx context.Context, u *model.User, d *model.Device) (err error) {
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

	const insUser = `INSERT INTO users (id, username) VALUES ($1, $2)`
	if _, err = tx.Exec(ctx, insUser, u.ID, u.Username); err != nil {
		if isUniqueViolation(err) {
			return errs.ErrUsernameTaken
		}
		return err
	}

	const insDevice = `
INSERT INTO devices (id, user_id, verify_key, agreement_key)
VALUES ($1, $2, $3, $4)`
	if _, err = tx.Exec(ctx, insDevice, d.ID, d.UserID, d.VerifyKey, d.AgreementKey); err != nil {
		return err
	}
	return nil
}

// GetUser selects a user by id.
func (r *UserRepo) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	const q = `SELECT id, username, created_at FROM users WHERE id=$1`
	return scanUser(r.db.Pool.QueryRow(ctx, q, id))
}

// GetUserByUsername selects a user by username.
func (r *UserRepo) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	const q = `SELECT id, username, created_at FROM users WHERE username=$1`
	return scanUser(r.db.Pool.QueryRow(ctx, q, username))
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Username, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// AddDevice inserts a device for an existing user.
func (r *UserRepo) AddDevice(ctx context.Context, d *model.Device) error {
	const q = `
INSERT INTO devices (id, user_id, verify_key, agreement_key)
VALUES ($1, $2, $3, $4)`
	_, err := r.db.Pool.Exec(ctx, q, d.ID, d.UserID, d.VerifyKey, d.AgreementKey)
	if isForeignKeyViolation(err) {
		return errs.ErrNotFound
	}
	return err
}

// GetDevice selects a device by id.
func (r *UserRepo) GetDevice(ctx context.Context, id uuid.UUID) (*model.Device, error) {
	const q = `
SELECT id, user_id, verify_key, agreement_key, created_at
FROM devices WHERE id=$1`
	row := r.db.Pool.QueryRow(ctx, q, id)
	var d model.Device
	if err := row.Scan(&d.ID, &d.UserID, &d.VerifyKey, &d.AgreementKey, &d.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// ListDevices returns all devices owned by a user, oldest first.
func (r *UserRepo) ListDevices(ctx context.Context, userID uuid.UUID) ([]model.Device, error) {
	const q = `
SELECT id, user_id, verify_key, agreement_key, created_at
FROM devices WHERE user_id=$1 ORDER BY id ASC`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Device
	for rows.Next() {
		var d model.Device
		if err = rows.Scan(&d.ID, &d.UserID, &d.VerifyKey, &d.AgreementKey, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/quietwire/relay/internal/errs"
	"github.com/quietwire/relay/internal/model"
)

// SessionRepo implements SessionRepository using PostgreSQL.
type SessionRepo struct{ db *DB }

// NewSessionRepo constructs a session repository.
func NewSessionRepo(db *DB) *SessionRepo { return &SessionRepo{db: db} }

// CreateSession inserts a session row.
func (r *SessionRepo) CreateSession(ctx context.Context, s *model.Session) error {
	const q = `
INSERT INTO sessions (id, user_id, token_hash, expires_at)
VALUES ($1, $2, $3, $4)`
	_, err := r.db.Pool.Exec(ctx, q, s.ID, s.UserID, s.TokenHash, s.ExpiresAt)
	return err
}

// GetSession selects a session by id.
func (r *SessionRepo) GetSession(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	const q = `SELECT id, user_id, token_hash, expires_at FROM sessions WHERE id=$1`
	row := r.db.Pool.QueryRow(ctx, q, id)
	var s model.Session
	if err := row.Scan(&s.ID, &s.UserID, &s.TokenHash, &s.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// DeleteUserSessions removes all sessions of a user.
func (r *SessionRepo) DeleteUserSessions(ctx context.Context, userID uuid.UUID) error {
	const q = `DELETE FROM sessions WHERE user_id=$1`
	_, err := r.db.Pool.Exec(ctx, q, userID)
	return err
}

// CreateChallenge inserts a challenge row.
func (r *SessionRepo) CreateChallenge(ctx context.Context, c *model.Challenge) error {
	const q = `
INSERT INTO challenges (id, user_id, nonce, expires_at)
VALUES ($1, $2, $3, $4)`
	_, err := r.db.Pool.Exec(ctx, q, c.ID, c.UserID, c.Nonce, c.ExpiresAt)
	return err
}

// ConsumeChallenge deletes and returns the challenge in one statement, so a
// challenge id can be completed at most once. Expired rows are treated the
// same as missing ones.
func (r *SessionRepo) ConsumeChallenge(ctx context.Context, id uuid.UUID) (*model.Challenge, error) {
	const q = `
DELETE FROM challenges
WHERE id=$1 AND expires_at > now()
RETURNING id, user_id, nonce, expires_at`
	row := r.db.Pool.QueryRow(ctx, q, id)
	var c model.Challenge
	if err := row.Scan(&c.ID, &c.UserID, &c.Nonce, &c.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrExpiredChallenge
		}
		return nil, err
	}
	return &c, nil
}

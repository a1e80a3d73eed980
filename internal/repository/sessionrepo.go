package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/quietwire/relay/internal/model"
)

// SessionRepository stores login sessions and single-use challenges.
type SessionRepository interface {
	// CreateSession inserts a session row.
	CreateSession(ctx context.Context, s *model.Session) error
	// GetSession loads a session by id.
	GetSession(ctx context.Context, id uuid.UUID) (*model.Session, error)
	// DeleteUserSessions removes all sessions of a user (logout everywhere).
	DeleteUserSessions(ctx context.Context, userID uuid.UUID) error

	// CreateChallenge inserts a challenge row.
	CreateChallenge(ctx context.Context, c *model.Challenge) error
	// ConsumeChallenge atomically removes and returns an unexpired challenge.
	// A second consume of the same id returns errs.ErrExpiredChallenge, which
	// is what makes challenges single-use.
	ConsumeChallenge(ctx context.Context, id uuid.UUID) (*model.Challenge, error)
}

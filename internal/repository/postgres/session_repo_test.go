package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/quietwire/relay/internal/errs"
	"github.com/quietwire/relay/internal/model"
)

func TestSessionRepo_ConsumeChallenge_Once(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewSessionRepo(db)

	id := uuid.Must(uuid.NewV7())
	userID := uuid.Must(uuid.NewV7())
	nonce := make([]byte, 32)
	exp := time.Now().Add(time.Minute)

	mock.ExpectQuery(`DELETE FROM challenges`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "nonce", "expires_at"}).
			AddRow(id, userID, nonce, exp))

	c, err := r.ConsumeChallenge(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, userID, c.UserID)

	// The row is gone now; the same id must fail.
	mock.ExpectQuery(`DELETE FROM challenges`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "nonce", "expires_at"}))

	_, err = r.ConsumeChallenge(context.Background(), id)
	require.ErrorIs(t, err, errs.ErrExpiredChallenge)
}

func TestSessionRepo_CreateAndGetSession(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewSessionRepo(db)

	s := &model.Session{
		ID:        uuid.Must(uuid.NewV7()),
		UserID:    uuid.Must(uuid.NewV7()),
		TokenHash: make([]byte, 32),
		ExpiresAt: time.Now().Add(time.Hour),
	}

	mock.ExpectExec(`INSERT INTO sessions`).
		WithArgs(s.ID, s.UserID, s.TokenHash, s.ExpiresAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.CreateSession(context.Background(), s))

	mock.ExpectQuery(`SELECT id, user_id, token_hash, expires_at FROM sessions`).
		WithArgs(s.ID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "token_hash", "expires_at"}).
			AddRow(s.ID, s.UserID, s.TokenHash, s.ExpiresAt))

	got, err := r.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	require.Equal(t, s.UserID, got.UserID)
}

func TestSessionRepo_DeleteUserSessions(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewSessionRepo(db)

	userID := uuid.Must(uuid.NewV7())
	mock.ExpectExec(`DELETE FROM sessions WHERE user_id=\$1`).
		WithArgs(userID).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	require.NoError(t, r.DeleteUserSessions(context.Background(), userID))
}

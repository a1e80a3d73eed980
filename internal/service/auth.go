package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/blake2b"

	"github.com/quietwire/relay/internal/errs"
	pkgkeys "github.com/quietwire/relay/internal/keys"
	"github.com/quietwire/relay/internal/limiter"
	"github.com/quietwire/relay/internal/model"
	"github.com/quietwire/relay/internal/repository"
)

const nonceSize = 32

// AuthService converts proof of private-key possession into sessions.
type AuthService interface {
	// StartChallenge issues a single-use nonce bound to the resolved user.
	StartChallenge(ctx context.Context, username string) (*model.Challenge, error)
	// CompleteChallenge verifies the signature over the canonical challenge
	// bytes with any of the user's device verify keys, consumes the
	// challenge, and issues a session token. A given challenge id succeeds
	// at most once.
	CompleteChallenge(ctx context.Context, challengeID uuid.UUID, signature []byte, ip string) (token string, sess *model.Session, err error)
	// Authenticate resolves a bearer token into a user.
	Authenticate(ctx context.Context, token string) (*model.User, error)
	// Logout removes all sessions of the user.
	Logout(ctx context.Context, userID uuid.UUID) error
}

type AuthServiceImpl struct {
	users        repository.UserRepository
	sessions     repository.SessionRepository
	lim          limiter.Limiter
	signKey      []byte
	challengeTTL time.Duration
	sessionTTL   time.Duration
}

// NewAuthService constructs AuthService.
func NewAuthService(users repository.UserRepository, sessions repository.SessionRepository, lim limiter.Limiter, signKey []byte, challengeTTL, sessionTTL time.Duration) *AuthServiceImpl {
	return &AuthServiceImpl{
		users:        users,
		sessions:     sessions,
		lim:          lim,
		signKey:      signKey,
		challengeTTL: challengeTTL,
		sessionTTL:   sessionTTL,
	}
}

// StartChallenge issues a random nonce with a short expiry.
func (s *AuthServiceImpl) StartChallenge(ctx context.Context, username string) (*model.Challenge, error) {
	u, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	nonce, err := pkgkeys.RandBytes(nonceSize)
	if err != nil {
		return nil, err
	}
	c := &model.Challenge{
		ID:        id,
		UserID:    u.ID,
		Nonce:     nonce,
		ExpiresAt: time.Now().Add(s.challengeTTL),
	}
	if err := withRetry(ctx, func(ctx context.Context) error {
		return s.sessions.CreateChallenge(ctx, c)
	}); err != nil {
		return nil, err
	}
	return c, nil
}

// CompleteChallenge consumes the challenge first, so even a failed signature
// check burns the nonce and the same pair can never succeed later.
func (s *AuthServiceImpl) CompleteChallenge(ctx context.Context, challengeID uuid.UUID, signature []byte, ip string) (string, *model.Session, error) {
	c, err := s.sessions.ConsumeChallenge(ctx, challengeID)
	if err != nil {
		return "", nil, err
	}
	u, err := s.users.GetUser(ctx, c.UserID)
	if err != nil {
		return "", nil, err
	}

	ipHash := limiter.HashIP(ip)
	allowed, _, err := s.lim.Allow(ctx, u.Username, ipHash)
	if err != nil {
		return "", nil, err
	}
	if !allowed {
		return "", nil, errs.ErrRateLimited
	}

	devices, err := s.users.ListDevices(ctx, c.UserID)
	if err != nil {
		return "", nil, err
	}
	verifyKeys := make([][]byte, 0, len(devices))
	for _, d := range devices {
		verifyKeys = append(verifyKeys, d.VerifyKey)
	}
	if err := pkgkeys.VerifyChallenge(verifyKeys, c.ID, c.Nonce, signature); err != nil {
		if blocked, _, ferr := s.lim.Failure(ctx, u.Username, ipHash); ferr == nil && blocked {
			return "", nil, errs.ErrRateLimited
		}
		return "", nil, err
	}
	_ = s.lim.Success(ctx, u.Username, ipHash)

	return s.issueSession(ctx, c.UserID)
}

func (s *AuthServiceImpl) issueSession(ctx context.Context, userID uuid.UUID) (string, *model.Session, error) {
	sessionID, err := uuid.NewV7()
	if err != nil {
		return "", nil, err
	}
	now := time.Now()
	exp := now.Add(s.sessionTTL)

	claims := jwt.RegisteredClaims{
		ID:        sessionID.String(),
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signKey)
	if err != nil {
		return "", nil, err
	}

	hash := tokenHash(token)
	sess := &model.Session{ID: sessionID, UserID: userID, TokenHash: hash, ExpiresAt: exp}
	if err := withRetry(ctx, func(ctx context.Context) error {
		return s.sessions.CreateSession(ctx, sess)
	}); err != nil {
		return "", nil, err
	}
	return token, sess, nil
}

// Authenticate checks the token signature and claims, then the durable
// session row; logout revokes tokens before their JWT expiry.
func (s *AuthServiceImpl) Authenticate(ctx context.Context, token string) (*model.User, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return s.signKey, nil
	})
	if err != nil || !parsed.Valid {
		return nil, errs.ErrUnauthorized
	}
	sessionID, err := uuid.FromString(claims.ID)
	if err != nil {
		return nil, errs.ErrUnauthorized
	}

	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, errs.ErrUnauthorized
	}
	hash := tokenHash(token)
	if subtle.ConstantTimeCompare(hash, sess.TokenHash) != 1 {
		return nil, errs.ErrUnauthorized
	}
	if time.Now().After(sess.ExpiresAt) {
		return nil, errs.ErrUnauthorized
	}
	return s.users.GetUser(ctx, sess.UserID)
}

// Logout deletes all sessions of the user.
func (s *AuthServiceImpl) Logout(ctx context.Context, userID uuid.UUID) error {
	return s.sessions.DeleteUserSessions(ctx, userID)
}

func tokenHash(token string) []byte {
	h := blake2b.Sum256([]byte(token))
	return h[:]
}

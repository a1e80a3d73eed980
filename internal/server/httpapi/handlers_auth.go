package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/quietwire/relay/internal/errs"
)

type registerRequest struct {
	Username     string `json:"username"`
	VerifyKey    []byte `json:"verify_key"`
	AgreementKey []byte `json:"agreement_key"`
	Signature    []byte `json:"signature"`
}

type registerResponse struct {
	UserID   uuid.UUID `json:"user_id"`
	DeviceID uuid.UUID `json:"device_id"`
}

// handleRegister creates a user with its first device.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	u, d, err := s.registry.RegisterUser(r.Context(), req.Username, req.VerifyKey, req.AgreementKey, req.Signature)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{UserID: u.ID, DeviceID: d.ID})
}

type challengeResponse struct {
	ChallengeID uuid.UUID `json:"challenge_id"`
	Nonce       []byte    `json:"nonce"`
}

type completeRequest struct {
	ChallengeID uuid.UUID `json:"challenge_id"`
	Signature   []byte    `json:"signature"`
}

type sessionResponse struct {
	Token     string    `json:"token"`
	UserID    uuid.UUID `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleChallenge serves both halves of the login exchange on one route:
// with ?user= it starts a challenge, otherwise the body completes one.
func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	if username := r.URL.Query().Get("user"); username != "" {
		c, err := s.auth.StartChallenge(r.Context(), username)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, challengeResponse{ChallengeID: c.ID, Nonce: c.Nonce})
		return
	}

	var req completeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ChallengeID == uuid.Nil {
		writeError(w, fmt.Errorf("%w: empty challenge id", errs.ErrValidation))
		return
	}
	token, sess, err := s.auth.CompleteChallenge(r.Context(), req.ChallengeID, req.Signature, remoteIP(r))
	if err != nil {
		writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, sessionResponse{Token: token, UserID: sess.UserID, ExpiresAt: sess.ExpiresAt})
}

// handleLogout revokes every session of the caller and clears the cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	if err := s.auth.Logout(r.Context(), u.ID); err != nil {
		writeError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

type userResponse struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
}

// handleMe returns the authenticated user.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	writeJSON(w, http.StatusOK, userResponse{UserID: u.ID, Username: u.Username})
}

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/quietwire/relay/internal/errs"
)

// errorBody is the machine-readable error envelope: a stable kind plus a
// human-readable detail.
type errorBody struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		detail = "internal error" // never leak storage details
	}
	writeJSON(w, status, map[string]errorBody{"error": {Kind: kind, Detail: detail}})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, errs.ErrInvalidSignature):
		return http.StatusBadRequest, "invalid_signature"
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, errs.ErrExpiredChallenge):
		return http.StatusUnauthorized, "expired_challenge"
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, errs.ErrUsernameTaken):
		return http.StatusConflict, "username_taken"
	case errors.Is(err, errs.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, errs.ErrNoKeysAvailable):
		return http.StatusConflict, "no_keys_available"
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// decodeJSON parses a bounded request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return errs.ErrValidation
	}
	return nil
}

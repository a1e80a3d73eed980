package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/quietwire/relay/internal/errs"
)

// handleStream upgrades to WebSocket and binds the connection to the
// caller's device. The gateway owns the socket from here on.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	deviceID, err := pathUUID(r, "deviceID")
	if err != nil {
		writeError(w, err)
		return
	}
	d, err := s.registry.GetPublicKeys(r.Context(), deviceID)
	if err != nil {
		writeError(w, err)
		return
	}
	if d.UserID != u.ID {
		writeError(w, errs.ErrUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake failure.
		s.log.Debug("ws upgrade failed", zap.Error(err))
		return
	}
	s.gateway.Serve(r.Context(), ws, u.ID, deviceID)
}

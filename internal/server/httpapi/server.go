// Package httpapi exposes the relay's REST and WebSocket surface.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quietwire/relay/internal/gateway"
	"github.com/quietwire/relay/internal/service"
)

// Server wires services into HTTP handlers.
type Server struct {
	log       *zap.Logger
	registry  service.RegistryService
	prekeys   service.PreKeyService
	directory service.DirectoryService
	relay     service.RelayService
	auth      service.AuthService
	gateway   *gateway.Manager
	upgrader  websocket.Upgrader
}

// New constructs the HTTP server with injected services.
func New(log *zap.Logger, registry service.RegistryService, prekeys service.PreKeyService, directory service.DirectoryService, relay service.RelayService, auth service.AuthService, gw *gateway.Manager) *Server {
	return &Server{
		log:       log,
		registry:  registry,
		prekeys:   prekeys,
		directory: directory,
		relay:     relay,
		auth:      auth,
		gateway:   gw,
	}
}

// Router builds the route tree. Everything except registration and the
// challenge exchange sits behind session auth.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverer, s.logging)

	r.Post("/auth/register", s.handleRegister)
	r.Post("/auth/challenge", s.handleChallenge)

	r.Group(func(r chi.Router) {
		r.Use(s.sessionAuth)

		r.Post("/auth/logout", s.handleLogout)
		r.Get("/me", s.handleMe)
		r.Get("/me/channels", s.handleListChannels)

		r.Post("/me/device", s.handleAddDevice)
		r.Get("/me/device/{deviceID}/otks", s.handleCountKeys)
		r.Post("/me/device/{deviceID}/otks", s.handleUploadKeys)
		r.Get("/me/device/{deviceID}/ws", s.handleStream)

		r.Get("/device/{deviceID}/keys", s.handleGetPublicKeys)
		r.Post("/user/{userID}/device/{deviceID}/otk", s.handleClaimKey)

		r.Post("/channel", s.handleCreateChannel)
		r.Get("/channel/{channelID}", s.handleGetChannel)
		r.Post("/channel/{channelID}/msg", s.handleSend)
		r.Get("/channel/{channelID}/history", s.handleHistory)
	})
	return r
}

package httpapi

import (
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/quietwire/relay/internal/errs"
	"github.com/quietwire/relay/internal/gateway"
	"github.com/quietwire/relay/internal/model"
)

type createChannelRequest struct {
	Recipients []string `json:"recipients"`
}

type channelResponse struct {
	ChannelID    uuid.UUID        `json:"channel_id"`
	Participants []userResponse   `json:"participants"`
	Devices      []deviceResponse `json:"devices"`
}

func toChannelResponse(info *model.ChannelInfo) channelResponse {
	resp := channelResponse{ChannelID: info.ID}
	for _, u := range info.Participants {
		resp.Participants = append(resp.Participants, userResponse{UserID: u.ID, Username: u.Username})
	}
	for _, d := range info.Devices {
		resp.Devices = append(resp.Devices, toDeviceResponse(d))
	}
	return resp
}

// handleCreateChannel creates a channel and notifies every participant device.
func (s *Server) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	var req createChannelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	info, err := s.directory.CreateChannel(r.Context(), u.ID, req.Recipients)
	if err != nil {
		writeError(w, err)
		return
	}

	e := gateway.NewChannelCreatedEvent(info.ID)
	for _, d := range info.Devices {
		s.gateway.SendToDevice(d.ID, e)
	}
	writeJSON(w, http.StatusCreated, toChannelResponse(info))
}

// handleGetChannel returns participants and the fan-out device set.
func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	channelID, err := pathUUID(r, "channelID")
	if err != nil {
		writeError(w, err)
		return
	}
	info, err := s.directory.GetChannel(r.Context(), u.ID, channelID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChannelResponse(info))
}

type channelListEntry struct {
	ChannelID uuid.UUID `json:"channel_id"`
}

// handleListChannels returns the caller's channels.
func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	list, err := s.directory.ListChannels(r.Context(), u.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]channelListEntry, 0, len(list))
	for _, ch := range list {
		resp = append(resp, channelListEntry{ChannelID: ch.ID})
	}
	writeJSON(w, http.StatusOK, resp)
}

type sendRequest struct {
	MessageID uuid.UUID            `json:"message_id"`
	DeviceID  uuid.UUID            `json:"device_id"`
	Payloads  []sendPayloadRequest `json:"payloads"`
}

type sendPayloadRequest struct {
	RecipientDeviceID uuid.UUID `json:"recipient_device_id"`
	Ciphertext        []byte    `json:"ciphertext"`
	IsPreKey          bool      `json:"is_pre_key"`
}

type sendResponse struct {
	MessageID uuid.UUID `json:"message_id"`
}

// handleSend persists the fan-out, then pushes each payload to its recipient
// device and acknowledges to the sender's device. Push is best effort;
// offline devices recover via history.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	channelID, err := pathUUID(r, "channelID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	payloads := make([]model.InboundPayload, 0, len(req.Payloads))
	for _, p := range req.Payloads {
		payloads = append(payloads, model.InboundPayload{
			RecipientDeviceID: p.RecipientDeviceID,
			Ciphertext:        p.Ciphertext,
			IsPreKey:          p.IsPreKey,
		})
	}
	m, rows, err := s.relay.Send(r.Context(), u.ID, req.DeviceID, channelID, req.MessageID, payloads)
	if err != nil {
		writeError(w, err)
		return
	}

	for _, row := range rows {
		s.gateway.SendToDevice(row.RecipientDeviceID, gateway.NewMessageEvent(m, row))
	}
	s.gateway.SendToDevice(req.DeviceID, gateway.NewMessageAckEvent(m))
	writeJSON(w, http.StatusCreated, sendResponse{MessageID: m.ID})
}

type historyEntryResponse struct {
	MessageID      uuid.UUID `json:"message_id"`
	ChannelID      uuid.UUID `json:"channel_id"`
	SenderID       uuid.UUID `json:"sender_id"`
	SenderDeviceID uuid.UUID `json:"sender_device_id"`
	Ciphertext     []byte    `json:"ciphertext"`
	IsPreKey       bool      `json:"is_pre_key"`
	CreatedAt      time.Time `json:"created_at"`
}

// handleHistory serves payloads addressed to the requesting device, ascending
// by message id after the optional cursor.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	channelID, err := pathUUID(r, "channelID")
	if err != nil {
		writeError(w, err)
		return
	}
	deviceID, err := queryUUID(r, "device")
	if err != nil {
		writeError(w, err)
		return
	}
	after := uuid.Nil
	if v := r.URL.Query().Get("after"); v != "" {
		if after, err = uuid.FromString(v); err != nil {
			writeError(w, errs.ErrValidation)
			return
		}
	}

	entries, err := s.relay.History(r.Context(), u.ID, deviceID, channelID, after)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]historyEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, historyEntryResponse{
			MessageID:      e.MessageID,
			ChannelID:      e.ChannelID,
			SenderID:       e.SenderID,
			SenderDeviceID: e.SenderDeviceID,
			Ciphertext:     e.Ciphertext,
			IsPreKey:       e.IsPreKey,
			CreatedAt:      e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"

	"github.com/quietwire/relay/internal/errs"
	"github.com/quietwire/relay/internal/gateway"
	"github.com/quietwire/relay/internal/model"
)

type addDeviceRequest struct {
	VerifyKey    []byte `json:"verify_key"`
	AgreementKey []byte `json:"agreement_key"`
	Signature    []byte `json:"signature"`
}

type deviceResponse struct {
	DeviceID     uuid.UUID `json:"device_id"`
	UserID       uuid.UUID `json:"user_id"`
	VerifyKey    []byte    `json:"verify_key"`
	AgreementKey []byte    `json:"agreement_key"`
}

func toDeviceResponse(d model.Device) deviceResponse {
	return deviceResponse{
		DeviceID:     d.ID,
		UserID:       d.UserID,
		VerifyKey:    d.VerifyKey,
		AgreementKey: d.AgreementKey,
	}
}

// handleAddDevice registers an additional device for the caller and tells the
// caller's other connected devices about it.
func (s *Server) handleAddDevice(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	var req addDeviceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	d, err := s.registry.AddDevice(r.Context(), u.ID, req.VerifyKey, req.AgreementKey, req.Signature)
	if err != nil {
		writeError(w, err)
		return
	}
	s.notifyDeviceAdded(r, u.ID, d.ID)
	writeJSON(w, http.StatusCreated, toDeviceResponse(*d))
}

// handleGetPublicKeys serves a device's public identity material.
func (s *Server) handleGetPublicKeys(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusOK, toDeviceResponse(*d))
}

type uploadKeysRequest struct {
	Keys      [][]byte `json:"keys"`
	Signature []byte   `json:"signature"`
}

type countKeysResponse struct {
	Count int `json:"count"`
}

// handleUploadKeys appends a signed pre-key batch to the caller's own device.
func (s *Server) handleUploadKeys(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	deviceID, err := pathUUID(r, "deviceID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req uploadKeysRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.prekeys.UploadKeys(r.Context(), u.ID, deviceID, req.Keys, req.Signature); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCountKeys reports the caller's pool size for replenishment decisions.
func (s *Server) handleCountKeys(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	deviceID, err := pathUUID(r, "deviceID")
	if err != nil {
		writeError(w, err)
		return
	}
	n, err := s.prekeys.CountKeys(r.Context(), u.ID, deviceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, countKeysResponse{Count: n})
}

type claimKeyResponse struct {
	PreKeyID uuid.UUID `json:"pre_key_id"`
	DeviceID uuid.UUID `json:"device_id"`
	Key      []byte    `json:"key"`
}

// handleClaimKey dispenses one pre-key from the target device's pool.
// An empty pool is a 409 the caller handles by sending a non-bootstrap
// message instead.
func (s *Server) handleClaimKey(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUUID(r, "userID")
	if err != nil {
		writeError(w, err)
		return
	}
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
	if d.UserID != userID {
		writeError(w, errs.ErrNotFound)
		return
	}
	pk, err := s.prekeys.ClaimKey(r.Context(), deviceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claimKeyResponse{PreKeyID: pk.ID, DeviceID: pk.DeviceID, Key: pk.Key})
}

// notifyDeviceAdded pushes a device_added event to the owner's other devices.
func (s *Server) notifyDeviceAdded(r *http.Request, userID, newDeviceID uuid.UUID) {
	devices, err := s.registry.ListDevices(r.Context(), userID)
	if err != nil {
		return
	}
	e := gateway.NewDeviceAddedEvent(userID, newDeviceID)
	for _, d := range devices {
		if d.ID != newDeviceID {
			s.gateway.SendToDevice(d.ID, e)
		}
	}
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.FromString(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, errs.ErrValidation
	}
	return id, nil
}

func queryUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.FromString(r.URL.Query().Get(name))
	if err != nil {
		return uuid.Nil, errs.ErrValidation
	}
	return id, nil
}

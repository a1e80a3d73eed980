package service

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/quietwire/relay/internal/errs"
	"github.com/quietwire/relay/internal/model"
	"github.com/quietwire/relay/internal/repository"
)

// RelayService persists ciphertext fan-out and serves history.
type RelayService interface {
	// Send validates the sender against the channel, then persists the
	// message and one payload row per named recipient device atomically.
	// The supplied payload list is the authoritative fan-out set for this
	// send; the server never re-encrypts for late-joining devices.
	Send(ctx context.Context, senderID, senderDeviceID, channelID, messageID uuid.UUID, payloads []model.InboundPayload) (*model.Message, []model.MessagePayload, error)
	// History returns payloads addressed to deviceID in the channel after
	// the given cursor (uuid.Nil for all), ascending by message id.
	History(ctx context.Context, userID, deviceID, channelID, after uuid.UUID) ([]model.HistoryEntry, error)
}

type RelayServiceImpl struct {
	users     repository.UserRepository
	channels  repository.ChannelRepository
	messages  repository.MessageRepository
	maxFanOut int
}

// NewRelayService constructs RelayService with a fan-out size limit.
func NewRelayService(users repository.UserRepository, channels repository.ChannelRepository, messages repository.MessageRepository, maxFanOut int) *RelayServiceImpl {
	if maxFanOut <= 0 {
		maxFanOut = 1000
	}
	return &RelayServiceImpl{users: users, channels: channels, messages: messages, maxFanOut: maxFanOut}
}

// Send persists the fan-out after sender validation.
func (s *RelayServiceImpl) Send(ctx context.Context, senderID, senderDeviceID, channelID, messageID uuid.UUID, payloads []model.InboundPayload) (*model.Message, []model.MessagePayload, error) {
	if messageID == uuid.Nil || channelID == uuid.Nil {
		return nil, nil, fmt.Errorf("%w: empty message/channel id", errs.ErrValidation)
	}
	if len(payloads) == 0 {
		return nil, nil, fmt.Errorf("%w: no payloads", errs.ErrValidation)
	}
	if len(payloads) > s.maxFanOut {
		return nil, nil, fmt.Errorf("%w: fan-out too large (%d > %d)", errs.ErrValidation, len(payloads), s.maxFanOut)
	}
	for i, p := range payloads {
		if p.RecipientDeviceID == uuid.Nil || len(p.Ciphertext) == 0 {
			return nil, nil, fmt.Errorf("%w: payload[%d] empty device/ciphertext", errs.ErrValidation, i)
		}
	}

	device, err := s.users.GetDevice(ctx, senderDeviceID)
	if err != nil {
		return nil, nil, err
	}
	if device.UserID != senderID {
		return nil, nil, errs.ErrUnauthorized
	}
	ok, err := s.channels.IsParticipant(ctx, channelID, senderID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, errs.ErrUnauthorized
	}

	m := &model.Message{
		ID:             messageID,
		ChannelID:      channelID,
		SenderID:       senderID,
		SenderDeviceID: senderDeviceID,
	}
	rows := make([]model.MessagePayload, 0, len(payloads))
	for _, p := range payloads {
		rows = append(rows, model.MessagePayload{
			MessageID:         messageID,
			RecipientDeviceID: p.RecipientDeviceID,
			Ciphertext:        p.Ciphertext,
			IsPreKey:          p.IsPreKey,
		})
	}
	if err := withRetry(ctx, func(ctx context.Context) error {
		return s.messages.Save(ctx, m, rows)
	}); err != nil {
		return nil, nil, err
	}
	return m, rows, nil
}

// History serves the per-device payload stream for a channel.
func (s *RelayServiceImpl) History(ctx context.Context, userID, deviceID, channelID, after uuid.UUID) ([]model.HistoryEntry, error) {
	device, err := s.users.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if device.UserID != userID {
		return nil, errs.ErrUnauthorized
	}
	ok, err := s.channels.IsParticipant(ctx, channelID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.ErrNotFound
	}
	return s.messages.History(ctx, channelID, deviceID, after)
}

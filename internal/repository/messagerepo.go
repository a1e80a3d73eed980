package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/quietwire/relay/internal/model"
)

// MessageRepository persists ciphertext fan-out and serves history.
type MessageRepository interface {
	// Save inserts the message row and all payload rows atomically.
	Save(ctx context.Context, m *model.Message, payloads []model.MessagePayload) error
	// History returns payloads addressed to deviceID for messages in
	// channelID with id greater than after (uuid.Nil means from the start),
	// ascending by message id.
	History(ctx context.Context, channelID, deviceID, after uuid.UUID) ([]model.HistoryEntry, error)
}

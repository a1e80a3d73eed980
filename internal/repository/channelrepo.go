package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/quietwire/relay/internal/model"
)

// ChannelRepository tracks channels and their participant sets.
type ChannelRepository interface {
	// Create inserts a channel and its participant rows in one transaction.
	// Repeated calls with the same participants create distinct channels.
	Create(ctx context.Context, ch *model.Channel, participantIDs []uuid.UUID) error
	// GetInfo returns participants and the union of their devices (the
	// fan-out set) for a channel.
	GetInfo(ctx context.Context, channelID uuid.UUID) (*model.ChannelInfo, error)
	// ListByUser returns all channels the user participates in.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Channel, error)
	// IsParticipant reports whether the user belongs to the channel.
	IsParticipant(ctx context.Context, channelID, userID uuid.UUID) (bool, error)
}

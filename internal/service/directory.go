package service

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/quietwire/relay/internal/errs"
	"github.com/quietwire/relay/internal/model"
	"github.com/quietwire/relay/internal/repository"
)

// DirectoryService tracks channels and their participant sets.
type DirectoryService interface {
	// CreateChannel creates a new channel for the creator plus the resolved
	// recipients. Every call creates a distinct channel.
	CreateChannel(ctx context.Context, creatorID uuid.UUID, participantUsernames []string) (*model.ChannelInfo, error)
	// GetChannel returns participants and the fan-out device set. The
	// requester must be a participant.
	GetChannel(ctx context.Context, userID, channelID uuid.UUID) (*model.ChannelInfo, error)
	// ListChannels returns channels the user participates in.
	ListChannels(ctx context.Context, userID uuid.UUID) ([]model.Channel, error)
}

type DirectoryServiceImpl struct {
	users    repository.UserRepository
	channels repository.ChannelRepository
}

// NewDirectoryService constructs DirectoryService.
func NewDirectoryService(users repository.UserRepository, channels repository.ChannelRepository) *DirectoryServiceImpl {
	return &DirectoryServiceImpl{users: users, channels: channels}
}

// CreateChannel resolves usernames, inserts the channel and participant rows.
func (s *DirectoryServiceImpl) CreateChannel(ctx context.Context, creatorID uuid.UUID, participantUsernames []string) (*model.ChannelInfo, error) {
	if len(participantUsernames) == 0 {
		return nil, fmt.Errorf("%w: no recipients", errs.ErrValidation)
	}

	participantIDs := []uuid.UUID{creatorID}
	seen := map[uuid.UUID]bool{creatorID: true}
	for _, name := range participantUsernames {
		u, err := s.users.GetUserByUsername(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", name, err)
		}
		if seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		participantIDs = append(participantIDs, u.ID)
	}
	if len(participantIDs) < 2 {
		return nil, fmt.Errorf("%w: a channel needs at least two participants", errs.ErrValidation)
	}

	channelID, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	ch := &model.Channel{ID: channelID}
	if err := withRetry(ctx, func(ctx context.Context) error {
		return s.channels.Create(ctx, ch, participantIDs)
	}); err != nil {
		return nil, err
	}
	return s.channels.GetInfo(ctx, channelID)
}

// GetChannel returns channel info after a participant check.
func (s *DirectoryServiceImpl) GetChannel(ctx context.Context, userID, channelID uuid.UUID) (*model.ChannelInfo, error) {
	ok, err := s.channels.IsParticipant(ctx, channelID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.ErrNotFound
	}
	return s.channels.GetInfo(ctx, channelID)
}

// ListChannels returns the user's channels.
func (s *DirectoryServiceImpl) ListChannels(ctx context.Context, userID uuid.UUID) ([]model.Channel, error) {
	return s.channels.ListByUser(ctx, userID)
}

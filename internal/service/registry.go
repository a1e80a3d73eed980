package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"

	"github.com/quietwire/relay/internal/errs"
	"github.com/quietwire/relay/internal/keys"
	"github.com/quietwire/relay/internal/model"
	"github.com/quietwire/relay/internal/repository"
)

// RegistryService manages user and device identities.
type RegistryService interface {
	// RegisterUser creates a user together with its first device after
	// verifying the key-binding signature.
	RegisterUser(ctx context.Context, username string, verifyKey, agreementKey, bindingSig []byte) (*model.User, *model.Device, error)
	// AddDevice registers an additional device for an existing user.
	AddDevice(ctx context.Context, userID uuid.UUID, verifyKey, agreementKey, bindingSig []byte) (*model.Device, error)
	// GetPublicKeys returns the public identity material of a device.
	GetPublicKeys(ctx context.Context, deviceID uuid.UUID) (*model.Device, error)
	// GetUserByUsername resolves a username.
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	// GetUser loads a user by id.
	GetUser(ctx context.Context, id uuid.UUID) (*model.User, error)
	// ListDevices returns all devices owned by a user.
	ListDevices(ctx context.Context, userID uuid.UUID) ([]model.Device, error)
}

type RegistryServiceImpl struct {
	users repository.UserRepository
}

// NewRegistryService constructs RegistryService.
func NewRegistryService(users repository.UserRepository) *RegistryServiceImpl {
	return &RegistryServiceImpl{users: users}
}

// RegisterUser verifies the binding signature, then inserts user + device.
func (s *RegistryServiceImpl) RegisterUser(ctx context.Context, username string, verifyKey, agreementKey, bindingSig []byte) (*model.User, *model.Device, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, nil, fmt.Errorf("%w: empty username", errs.ErrValidation)
	}
	if err := keys.VerifyBinding(verifyKey, agreementKey, bindingSig); err != nil {
		return nil, nil, err
	}

	userID, err := uuid.NewV7()
	if err != nil {
		return nil, nil, err
	}
	deviceID, err := uuid.NewV7()
	if err != nil {
		return nil, nil, err
	}

	u := &model.User{ID: userID, Username: username}
	d := &model.Device{
		ID:           deviceID,
		UserID:       userID,
		VerifyKey:    verifyKey,
		AgreementKey: agreementKey,
	}
	if err := withRetry(ctx, func(ctx context.Context) error {
		return s.users.CreateUser(ctx, u, d)
	}); err != nil {
		return nil, nil, err
	}
	return u, d, nil
}

// AddDevice verifies the binding signature and inserts the device.
func (s *RegistryServiceImpl) AddDevice(ctx context.Context, userID uuid.UUID, verifyKey, agreementKey, bindingSig []byte) (*model.Device, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty user id", errs.ErrValidation)
	}
	if err := keys.VerifyBinding(verifyKey, agreementKey, bindingSig); err != nil {
		return nil, err
	}
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	deviceID, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	d := &model.Device{
		ID:           deviceID,
		UserID:       userID,
		VerifyKey:    verifyKey,
		AgreementKey: agreementKey,
	}
	if err := withRetry(ctx, func(ctx context.Context) error {
		return s.users.AddDevice(ctx, d)
	}); err != nil {
		return nil, err
	}
	return d, nil
}

// GetPublicKeys returns only public material; no private state is ever stored.
func (s *RegistryServiceImpl) GetPublicKeys(ctx context.Context, deviceID uuid.UUID) (*model.Device, error) {
	if deviceID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty device id", errs.ErrValidation)
	}
	return s.users.GetDevice(ctx, deviceID)
}

// GetUserByUsername resolves a username to a user.
func (s *RegistryServiceImpl) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.users.GetUserByUsername(ctx, username)
}

// GetUser loads a user by id.
func (s *RegistryServiceImpl) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return s.users.GetUser(ctx, id)
}

// ListDevices returns all devices owned by a user.
func (s *RegistryServiceImpl) ListDevices(ctx context.Context, userID uuid.UUID) ([]model.Device, error) {
	return s.users.ListDevices(ctx, userID)
}

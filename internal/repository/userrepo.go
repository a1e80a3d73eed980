// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/quietwire/relay/internal/model"
)

// UserRepository provides access to users and their devices.
type UserRepository interface {
	// CreateUser inserts a user and its first device in one transaction.
	CreateUser(ctx context.Context, u *model.User, d *model.Device) error
	// GetUser loads a user by id.
	GetUser(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetUserByUsername loads a user by username.
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	// AddDevice inserts a device for an existing user.
	AddDevice(ctx context.Context, d *model.Device) error
	// GetDevice loads a device by id.
	GetDevice(ctx context.Context, id uuid.UUID) (*model.Device, error)
	// ListDevices returns all devices owned by a user.
	ListDevices(ctx context.Context, userID uuid.UUID) ([]model.Device, error)
}

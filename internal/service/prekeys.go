package service

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/quietwire/relay/internal/errs"
	"github.com/quietwire/relay/internal/keys"
	"github.com/quietwire/relay/internal/model"
	"github.com/quietwire/relay/internal/repository"
)

// PreKeyService manages per-device pools of one-time keys.
type PreKeyService interface {
	// UploadKeys appends a signed batch of pre-keys to the caller's device
	// pool. Duplicate key material is ignored so retries are safe.
	UploadKeys(ctx context.Context, userID, deviceID uuid.UUID, batch [][]byte, batchSig []byte) error
	// ClaimKey atomically removes and returns one pre-key from the target
	// device's pool, or errs.ErrNoKeysAvailable.
	ClaimKey(ctx context.Context, deviceID uuid.UUID) (*model.PreKey, error)
	// CountKeys reports the caller's pool size for replenishment decisions.
	CountKeys(ctx context.Context, userID, deviceID uuid.UUID) (int, error)
}

type PreKeyServiceImpl struct {
	users    repository.UserRepository
	preKeys  repository.PreKeyRepository
	maxBatch int
}

// NewPreKeyService constructs PreKeyService with an upload batch limit.
func NewPreKeyService(users repository.UserRepository, preKeys repository.PreKeyRepository, maxBatch int) *PreKeyServiceImpl {
	if maxBatch <= 0 {
		maxBatch = 100
	}
	return &PreKeyServiceImpl{users: users, preKeys: preKeys, maxBatch: maxBatch}
}

// UploadKeys verifies ownership and the batch signature, then appends keys.
func (s *PreKeyServiceImpl) UploadKeys(ctx context.Context, userID, deviceID uuid.UUID, batch [][]byte, batchSig []byte) error {
	if len(batch) == 0 {
		return fmt.Errorf("%w: empty batch", errs.ErrValidation)
	}
	if len(batch) > s.maxBatch {
		return fmt.Errorf("%w: batch too large (%d > %d)", errs.ErrValidation, len(batch), s.maxBatch)
	}

	device, err := s.users.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	if device.UserID != userID {
		return errs.ErrUnauthorized
	}
	if err := keys.VerifyBatch(device.VerifyKey, batch, batchSig); err != nil {
		return err
	}

	return withRetry(ctx, func(ctx context.Context) error {
		return s.preKeys.AddBatch(ctx, deviceID, batch)
	})
}

// ClaimKey dispenses one pre-key with claim-once semantics. Callers hitting
// an empty pool fall back to a non-bootstrap message path; nothing blocks.
func (s *PreKeyServiceImpl) ClaimKey(ctx context.Context, deviceID uuid.UUID) (*model.PreKey, error) {
	if _, err := s.users.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}
	return s.preKeys.Claim(ctx, deviceID)
}

// CountKeys reports the pool size of the caller's own device.
func (s *PreKeyServiceImpl) CountKeys(ctx context.Context, userID, deviceID uuid.UUID) (int, error) {
	device, err := s.users.GetDevice(ctx, deviceID)
	if err != nil {
		return 0, err
	}
	if device.UserID != userID {
		return 0, errs.ErrUnauthorized
	}
	return s.preKeys.Count(ctx, deviceID)
}

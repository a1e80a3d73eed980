package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/quietwire/relay/internal/model"
)

// PreKeyRepository manages per-device pools of single-use key material.
type PreKeyRepository interface {
	// AddBatch appends pre-keys to a device's pool. Key material already in
	// the pool is ignored, so replenishment uploads are idempotent.
	AddBatch(ctx context.Context, deviceID uuid.UUID, keys [][]byte) error
	// Claim atomically removes and returns one pre-key from the device's
	// pool. Returns errs.ErrNoKeysAvailable on an empty pool. A given key is
	// returned to at most one claimer, ever.
	Claim(ctx context.Context, deviceID uuid.UUID) (*model.PreKey, error)
	// Count reports the current pool size for a device.
	Count(ctx context.Context, deviceID uuid.UUID) (int, error)
}

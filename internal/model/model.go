// Package model defines domain entities shared by services, repositories and transport.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Key sizes for device identity material and pre-keys.
const (
	VerifyKeySize    = 32 // ed25519 public key
	AgreementKeySize = 32 // x25519 public key
	PreKeySize       = 32 // x25519 one-time public key
	SignatureSize    = 64 // ed25519 signature
)

// User is an account identified by a unique username.
// IDs are UUIDv7 so creation order matches sort order.
type User struct {
	ID        uuid.UUID
	Username  string
	CreatedAt time.Time
}

// Device is one endpoint owned by a user. Key material is immutable once set.
type Device struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	VerifyKey    []byte // ed25519, signs challenges / binding proofs
	AgreementKey []byte // x25519, static key for session bootstrap
	CreatedAt    time.Time
}

// PreKey is single-use key material in a device's pool. A pre-key is handed to
// at most one claimer, ever; claiming removes the row.
type PreKey struct {
	ID       uuid.UUID
	DeviceID uuid.UUID
	Key      []byte // x25519 public key
}

// Channel groups two or more participant users. Repeated creations with the
// same participants produce distinct channels.
type Channel struct {
	ID        uuid.UUID
	CreatedAt time.Time
}

// ChannelInfo is a channel together with its participants and the union of all
// devices they currently own (the fan-out set for senders).
type ChannelInfo struct {
	ID           uuid.UUID
	Participants []User
	Devices      []Device
}

// Message is an immutable per-channel record. Content lives only in payload
// rows, one per recipient device. The id doubles as the history cursor.
type Message struct {
	ID             uuid.UUID
	ChannelID      uuid.UUID
	SenderID       uuid.UUID
	SenderDeviceID uuid.UUID
	CreatedAt      time.Time
}

// MessagePayload is the ciphertext addressed to one recipient device.
type MessagePayload struct {
	MessageID         uuid.UUID
	RecipientDeviceID uuid.UUID
	Ciphertext        []byte
	IsPreKey          bool // session-bootstrap message
}

// InboundPayload is one entry of a client-supplied fan-out list.
type InboundPayload struct {
	RecipientDeviceID uuid.UUID
	Ciphertext        []byte
	IsPreKey          bool
}

// HistoryEntry is a payload joined with its message metadata, as served to a
// requesting device.
type HistoryEntry struct {
	MessageID      uuid.UUID
	ChannelID      uuid.UUID
	SenderID       uuid.UUID
	SenderDeviceID uuid.UUID
	Ciphertext     []byte
	IsPreKey       bool
	CreatedAt      time.Time
}

// Session is an authenticated login. Only a hash of the bearer token is stored.
type Session struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash []byte
	ExpiresAt time.Time
}

// Challenge is a single-use login nonce bound to a user with a short expiry.
type Challenge struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Nonce     []byte
	ExpiresAt time.Time
}

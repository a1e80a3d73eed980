package keys

import (
	"crypto/ed25519"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"

	"github.com/quietwire/relay/internal/errs"
)

func newIdentity(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey, []byte) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	scalar, err := RandBytes(32)
	require.NoError(t, err)
	agreement, err := curve25519.X25519(scalar, curve25519.Basepoint)
	require.NoError(t, err)
	return pub, priv, agreement
}

func TestVerifyBinding_OK(t *testing.T) {
	pub, priv, agreement := newIdentity(t)
	sig := ed25519.Sign(priv, agreement)
	require.NoError(t, VerifyBinding(pub, agreement, sig))
}

func TestVerifyBinding_WrongKey(t *testing.T) {
	pub, _, agreement := newIdentity(t)
	_, otherPriv, _ := newIdentity(t)
	sig := ed25519.Sign(otherPriv, agreement)
	require.ErrorIs(t, VerifyBinding(pub, agreement, sig), errs.ErrInvalidSignature)
}

func TestVerifyBinding_BadSizes(t *testing.T) {
	pub, priv, agreement := newIdentity(t)
	sig := ed25519.Sign(priv, agreement)

	require.ErrorIs(t, VerifyBinding(pub[:31], agreement, sig), errs.ErrValidation)
	require.ErrorIs(t, VerifyBinding(pub, agreement[:16], sig), errs.ErrValidation)
	require.ErrorIs(t, VerifyBinding(pub, agreement, sig[:63]), errs.ErrValidation)
}

func TestVerifyBatch_OK(t *testing.T) {
	pub, priv, _ := newIdentity(t)

	var batch [][]byte
	var msg []byte
	for i := 0; i < 3; i++ {
		k, err := RandBytes(32)
		require.NoError(t, err)
		batch = append(batch, k)
		msg = append(msg, k...)
	}
	sig := ed25519.Sign(priv, msg)
	require.NoError(t, VerifyBatch(pub, batch, sig))
}

func TestVerifyBatch_ReorderedFails(t *testing.T) {
	pub, priv, _ := newIdentity(t)

	k1, _ := RandBytes(32)
	k2, _ := RandBytes(32)
	sig := ed25519.Sign(priv, append(append([]byte{}, k1...), k2...))

	require.ErrorIs(t, VerifyBatch(pub, [][]byte{k2, k1}, sig), errs.ErrInvalidSignature)
}

func TestVerifyBatch_Empty(t *testing.T) {
	pub, _, _ := newIdentity(t)
	require.ErrorIs(t, VerifyBatch(pub, nil, make([]byte, 64)), errs.ErrValidation)
}

func TestVerifyChallenge_AnyDeviceKey(t *testing.T) {
	pub1, _, _ := newIdentity(t)
	pub2, priv2, _ := newIdentity(t)

	id := uuid.Must(uuid.NewV4())
	nonce, err := RandBytes(32)
	require.NoError(t, err)

	sig := ed25519.Sign(priv2, ChallengeBytes(id, nonce))
	require.NoError(t, VerifyChallenge([][]byte{pub1, pub2}, id, nonce, sig))
}

func TestVerifyChallenge_BoundToChallengeID(t *testing.T) {
	pub, priv, _ := newIdentity(t)

	id := uuid.Must(uuid.NewV4())
	other := uuid.Must(uuid.NewV4())
	nonce, err := RandBytes(32)
	require.NoError(t, err)

	sig := ed25519.Sign(priv, ChallengeBytes(id, nonce))
	require.ErrorIs(t, VerifyChallenge([][]byte{pub}, other, nonce, sig), errs.ErrInvalidSignature)
}

func TestVerifyChallenge_NoKeys(t *testing.T) {
	id := uuid.Must(uuid.NewV4())
	require.ErrorIs(t, VerifyChallenge(nil, id, []byte("n"), make([]byte, 64)), errs.ErrInvalidSignature)
}

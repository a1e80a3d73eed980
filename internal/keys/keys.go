// Package keys implements signature verification for device identity material,
// pre-key batches and login challenges. Only public material ever reaches the
// server; nothing here handles private keys.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"

	"github.com/gofrs/uuid/v5"

	"github.com/quietwire/relay/internal/errs"
	"github.com/quietwire/relay/internal/model"
)

// challengeContext is the domain-separation prefix for challenge signatures.
// The canonical signed bytes are context || challenge id || nonce, which binds
// the signature to one challenge row and makes responses non-replayable.
const challengeContext = "relay-challenge-v1"

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// ValidateVerifyKey checks the size of an ed25519 public key.
func ValidateVerifyKey(key []byte) error {
	if len(key) != model.VerifyKeySize {
		return errs.ErrValidation
	}
	return nil
}

// ValidateAgreementKey checks the size of an x25519 public key.
func ValidateAgreementKey(key []byte) error {
	if len(key) != model.AgreementKeySize {
		return errs.ErrValidation
	}
	return nil
}

// VerifyBinding checks that sig is a valid signature by verifyKey over
// agreementKey. A valid binding proves joint possession of both private keys
// and prevents substituting someone else's agreement key at registration.
func VerifyBinding(verifyKey, agreementKey, sig []byte) error {
	if err := ValidateVerifyKey(verifyKey); err != nil {
		return err
	}
	if err := ValidateAgreementKey(agreementKey); err != nil {
		return err
	}
	if len(sig) != model.SignatureSize {
		return errs.ErrValidation
	}
	if !ed25519.Verify(ed25519.PublicKey(verifyKey), agreementKey, sig) {
		return errs.ErrInvalidSignature
	}
	return nil
}

// VerifyBatch checks that sig is a valid signature by verifyKey over the
// concatenation of the uploaded pre-keys in upload order.
func VerifyBatch(verifyKey []byte, preKeys [][]byte, sig []byte) error {
	if err := ValidateVerifyKey(verifyKey); err != nil {
		return err
	}
	if len(preKeys) == 0 || len(sig) != model.SignatureSize {
		return errs.ErrValidation
	}
	msg := make([]byte, 0, len(preKeys)*model.PreKeySize)
	for _, k := range preKeys {
		if len(k) != model.PreKeySize {
			return errs.ErrValidation
		}
		msg = append(msg, k...)
	}
	if !ed25519.Verify(ed25519.PublicKey(verifyKey), msg, sig) {
		return errs.ErrInvalidSignature
	}
	return nil
}

// ChallengeBytes returns the canonical byte string a client must sign to
// complete the challenge: context || challenge id || nonce.
func ChallengeBytes(challengeID uuid.UUID, nonce []byte) []byte {
	msg := make([]byte, 0, len(challengeContext)+16+len(nonce))
	msg = append(msg, challengeContext...)
	msg = append(msg, challengeID.Bytes()...)
	msg = append(msg, nonce...)
	return msg
}

// VerifyChallenge checks a challenge response signature against any of the
// user's registered device verify keys. The session that results is scoped to
// the user, so any owned device may answer.
func VerifyChallenge(verifyKeys [][]byte, challengeID uuid.UUID, nonce, sig []byte) error {
	if len(sig) != model.SignatureSize {
		return errs.ErrValidation
	}
	msg := ChallengeBytes(challengeID, nonce)
	for _, vk := range verifyKeys {
		if len(vk) != model.VerifyKeySize {
			continue
		}
		if ed25519.Verify(ed25519.PublicKey(vk), msg, sig) {
			return nil
		}
	}
	return errs.ErrInvalidSignature
}

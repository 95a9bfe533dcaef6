// Package crypto provides the post-quantum signing capability for ledger
// entries. The concrete scheme is ML-DSA-65 (FIPS 204, Dilithium family)
// from cloudflare/circl; the Signer interface keeps the parameter set
// pluggable so a different ML-DSA strength can be swapped in without
// touching the chain.
package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
)

// SchemeMLDSA65 identifies the active signature scheme on the wire.
const SchemeMLDSA65 = "ML-DSA-65"

// ErrKeyUnavailable is returned when signing key material is missing or
// unusable. This is fatal: the ledger must refuse to append rather than
// record an unsigned entry.
var ErrKeyUnavailable = errors.New("crypto: signing key unavailable")

// Signature is a detached signature plus the identity of the key that
// produced it, so historical entries stay verifiable across rotations.
type Signature struct {
	Scheme string `json:"scheme"`
	KeyID  string `json:"key_id"`
	Value  string `json:"value"` // hex-encoded signature bytes
}

// Signer signs byte payloads under a single active key.
type Signer interface {
	Sign(data []byte) (Signature, error)
	KeyID() string
	PublicKey() []byte
}

// MLDSASigner signs with an ML-DSA-65 keypair.
type MLDSASigner struct {
	priv  *mldsa65.PrivateKey
	pub   *mldsa65.PublicKey
	keyID string
}

// NewMLDSASigner generates a fresh ML-DSA-65 keypair.
func NewMLDSASigner(keyID string) (*MLDSASigner, error) {
	pub, priv, err := mldsa65.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: key generation failed: %w", err)
	}
	return &MLDSASigner{priv: priv, pub: pub, keyID: keyID}, nil
}

// NewMLDSASignerFromSeed derives the keypair deterministically from a
// 32-byte seed. Used with provisioned key material (see DeriveSeed).
func NewMLDSASignerFromSeed(seed [mldsa65.SeedSize]byte, keyID string) *MLDSASigner {
	pub, priv := mldsa65.NewKeyFromSeed(&seed)
	return &MLDSASigner{priv: priv, pub: pub, keyID: keyID}
}

// Sign produces a detached signature over data. Fails only when key
// material is unavailable.
func (s *MLDSASigner) Sign(data []byte) (Signature, error) {
	if s == nil || s.priv == nil {
		return Signature{}, ErrKeyUnavailable
	}
	sig := make([]byte, mldsa65.SignatureSize)
	if err := mldsa65.SignTo(s.priv, data, nil, false, sig); err != nil {
		return Signature{}, fmt.Errorf("crypto: sign failed: %w", err)
	}
	return Signature{
		Scheme: SchemeMLDSA65,
		KeyID:  s.keyID,
		Value:  hex.EncodeToString(sig),
	}, nil
}

// KeyID returns the identity of the active key.
func (s *MLDSASigner) KeyID() string { return s.keyID }

// PublicKey returns the packed public key bytes.
func (s *MLDSASigner) PublicKey() []byte {
	b, err := s.pub.MarshalBinary()
	if err != nil {
		return nil
	}
	return b
}

// VerifyMLDSA checks a detached signature against a packed public key.
// It never fails: any decoding or size mismatch is simply false.
func VerifyMLDSA(pubKey []byte, data []byte, sig Signature) bool {
	if sig.Scheme != SchemeMLDSA65 {
		return false
	}
	raw, err := hex.DecodeString(sig.Value)
	if err != nil || len(raw) != mldsa65.SignatureSize {
		return false
	}
	var pub mldsa65.PublicKey
	if err := pub.UnmarshalBinary(pubKey); err != nil {
		return false
	}
	return mldsa65.Verify(&pub, data, nil, raw)
}

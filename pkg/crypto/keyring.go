package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"golang.org/x/crypto/hkdf"
)

// KeyRing holds verification keys indexed by key-id. Rotation adds a new
// active key without removing old ones, so every historical entry stays
// verifiable under the key-id carried in its signature.
type KeyRing struct {
	mu     sync.RWMutex
	keys   map[string][]byte // keyID -> packed public key
	active string
}

// NewKeyRing creates an empty keyring.
func NewKeyRing() *KeyRing {
	return &KeyRing{keys: make(map[string][]byte)}
}

// Add registers a verification key. The most recently added key becomes
// the active one.
func (k *KeyRing) Add(keyID string, pubKey []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[keyID] = pubKey
	k.active = keyID
}

// ActiveKeyID returns the key-id new signatures are expected under.
func (k *KeyRing) ActiveKeyID() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.active
}

// Verify checks a signature against the key named inside it. Unknown
// key-ids and any mismatch return false; verification never errors into
// the chain path.
func (k *KeyRing) Verify(data []byte, sig Signature) bool {
	k.mu.RLock()
	pub, ok := k.keys[sig.KeyID]
	k.mu.RUnlock()
	if !ok {
		return false
	}
	return VerifyMLDSA(pub, data, sig)
}

// KeyIDs lists registered key-ids in stable order.
func (k *KeyRing) KeyIDs() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	ids := make([]string, 0, len(k.keys))
	for id := range k.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DeriveSeed expands a provisioned master secret into the per-key signing
// seed for keyID using HKDF-SHA256. Rotating means picking a new keyID;
// the master secret itself never signs anything.
func DeriveSeed(master []byte, keyID string) ([mldsa65.SeedSize]byte, error) {
	var seed [mldsa65.SeedSize]byte
	if len(master) == 0 {
		return seed, ErrKeyUnavailable
	}
	r := hkdf.New(sha256.New, master, []byte("auditchain-signing-v1"), []byte(keyID))
	if _, err := io.ReadFull(r, seed[:]); err != nil {
		return seed, fmt.Errorf("crypto: seed derivation failed: %w", err)
	}
	return seed, nil
}

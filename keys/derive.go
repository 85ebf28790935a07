package keys

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"xdao.co/v2xsec/keyrecon"
)

// SeedSize is the length of a stored seed.
const SeedSize = 32

const kdfLabel = "xdao-v2xsec-keys-v1"

// PrivateFromSeed maps a seed to a P-256 private scalar. Candidates are
// SHA-256(seed || 0 || label || counter) until one lies in [1, n-1].
func PrivateFromSeed(seed []byte) ([]byte, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes", SeedSize)
	}
	var ctr [4]byte
	for i := uint32(0); i < 64; i++ {
		binary.BigEndian.PutUint32(ctr[:], i)
		h := sha256.New()
		h.Write(seed)
		h.Write([]byte{0})
		h.Write([]byte(kdfLabel))
		h.Write(ctr[:])
		cand := h.Sum(nil)
		if _, err := keyrecon.PublicFromPrivate(cand); err == nil {
			return cand, nil
		}
	}
	return nil, errors.New("no valid scalar derived from seed")
}

// PublicKeyFromSeed returns the public key string for a seed.
func PublicKeyFromSeed(seed []byte) (string, error) {
	priv, err := PrivateFromSeed(seed)
	if err != nil {
		return "", err
	}
	pub, err := keyrecon.PublicFromPrivate(priv)
	if err != nil {
		return "", err
	}
	return FormatPublicKey(pub)
}

// DeriveRoleSeed deterministically derives a role-specific seed from a root seed.
func DeriveRoleSeed(rootSeed []byte, role string) ([]byte, error) {
	if len(rootSeed) != SeedSize {
		return nil, fmt.Errorf("root seed must be %d bytes", SeedSize)
	}
	if err := validName("role", role); err != nil {
		return nil, err
	}

	h := sha256.New()
	_, _ = h.Write(rootSeed)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(kdfLabel))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte("role:"))
	_, _ = h.Write([]byte(role))
	return h.Sum(nil), nil
}

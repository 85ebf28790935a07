package keys

import (
	"encoding/hex"
	"fmt"
	"strings"

	"xdao.co/v2xsec/keyrecon"
)

const publicKeyPrefix = "p256:"

// FormatPublicKey renders a compressed P-256 point as "p256:" + hex.
func FormatPublicKey(pub []byte) (string, error) {
	if err := keyrecon.ValidatePoint(pub); err != nil {
		return "", err
	}
	if len(pub) != 33 {
		return "", fmt.Errorf("public key must be a 33-byte compressed point, got %d bytes", len(pub))
	}
	return publicKeyPrefix + hex.EncodeToString(pub), nil
}

// ParsePublicKey is the inverse of FormatPublicKey.
func ParsePublicKey(s string) ([]byte, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), publicKeyPrefix)
	if !ok {
		return nil, fmt.Errorf("public key must start with %q", publicKeyPrefix)
	}
	pub, err := hex.DecodeString(rest)
	if err != nil {
		return nil, err
	}
	if err := keyrecon.ValidatePoint(pub); err != nil {
		return nil, err
	}
	return pub, nil
}

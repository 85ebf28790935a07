package keyrecon

import (
	"crypto/aes"
	"encoding/binary"
	"math/big"

	"xdao.co/v2xsec/model"
)

// Usage selects the butterfly expansion domain.
type Usage uint8

const (
	UsageSigning Usage = iota
	UsageEncryption
)

// ExpansionKeySize is the AES-128 key size of the expansion function.
const ExpansionKeySize = 16

// Expand evaluates the butterfly expansion function f_k(i, j):
//
//	x = P || i || j || 0^32   (P = 0^32 for signing, 1^32 for encryption)
//	f = (AES_k(x+1) ^ (x+1)) || (AES_k(x+2) ^ (x+2)) || (AES_k(x+3) ^ (x+3))  mod n
//
// The result is a 32-byte scalar.
func Expand(key []byte, i, j uint32, usage Usage) ([]byte, error) {
	f, err := expand(key, i, j, usage)
	if err != nil {
		return nil, err
	}
	return scalarBytes(f), nil
}

func expand(key []byte, i, j uint32, usage Usage) (*big.Int, error) {
	if len(key) != ExpansionKeySize {
		return nil, model.Errorf(model.ErrInvalidArgument, "keyrecon: expansion key must be %d bytes", ExpansionKeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, model.Wrap(model.ErrInvalidArgument, "keyrecon: expansion key", err)
	}

	var prefix uint32
	switch usage {
	case UsageSigning:
	case UsageEncryption:
		prefix = 0xffffffff
	default:
		return nil, model.Errorf(model.ErrInvalidArgument, "keyrecon: unknown usage %d", usage)
	}

	out := make([]byte, 0, 3*aes.BlockSize)
	var in, enc [aes.BlockSize]byte
	for c := uint32(1); c <= 3; c++ {
		binary.BigEndian.PutUint32(in[0:4], prefix)
		binary.BigEndian.PutUint32(in[4:8], i)
		binary.BigEndian.PutUint32(in[8:12], j)
		binary.BigEndian.PutUint32(in[12:16], c)
		block.Encrypt(enc[:], in[:])
		for n := range enc {
			enc[n] ^= in[n]
		}
		out = append(out, enc[:]...)
	}
	f := new(big.Int).SetBytes(out)
	return f.Mod(f, order), nil
}

// Class is the kind of butterfly certificate set, which bounds j.
type Class uint8

const (
	ClassPseudonym Class = iota
	ClassIdentification
)

// Params holds the regional policy constants for butterfly sets.
type Params struct {
	PseudonymJMax      uint32 `yaml:"pseudonym_j_max"`
	IdentificationJMax uint32 `yaml:"identification_j_max"`
}

// DefaultParams returns the usual policy: 20 pseudonym slots per period and
// a single identification certificate per period.
func DefaultParams() Params {
	return Params{PseudonymJMax: 20, IdentificationJMax: 0}
}

// JMax returns the largest permitted j for class c.
func (p Params) JMax(c Class) uint32 {
	if c == ClassIdentification {
		return p.IdentificationJMax
	}
	return p.PseudonymJMax
}

// CheckSlot rejects a j beyond the class maximum.
func (p Params) CheckSlot(c Class, j uint32) error {
	if j > p.JMax(c) {
		return model.Errorf(model.ErrInvalidArgument, "keyrecon: j=%d exceeds maximum %d", j, p.JMax(c))
	}
	return nil
}

// ButterflyInput holds the material for one rotating certificate (i, j).
type ButterflyInput struct {
	I, J         uint32
	ExpansionKey []byte
	SeedPriv     []byte
	PrivRecon    []byte
	Cert         []byte
	ReconPoint   []byte
	IssuerHash   []byte
	IssuerPub    []byte
}

// DeriveSeed returns the caterpillar-derived private key b = seed + f_k(i, j) mod n.
func DeriveSeed(seedPriv, key []byte, i, j uint32) ([]byte, error) {
	b, err := deriveSeed(seedPriv, key, i, j)
	if err != nil {
		return nil, err
	}
	return scalarBytes(b), nil
}

func deriveSeed(seedPriv, key []byte, i, j uint32) (*big.Int, error) {
	seed, err := scalarFromBytes(seedPriv, "seed private key")
	if err != nil {
		return nil, err
	}
	f, err := expand(key, i, j, UsageSigning)
	if err != nil {
		return nil, err
	}
	b := new(big.Int).Add(seed, f)
	return b.Mod(b, order), nil
}

// ReconstructButterfly derives the key pair of slot (i, j) of a butterfly
// certificate set.
func ReconstructButterfly(in ButterflyInput) (KeyPair, error) {
	b, err := deriveSeed(in.SeedPriv, in.ExpansionKey, in.I, in.J)
	if err != nil {
		return KeyPair{}, err
	}
	return reconstruct(b, in.PrivRecon, in.Cert, in.ReconPoint, in.IssuerHash, in.IssuerPub)
}

// ExpandPublic is the registration-authority side of DeriveSeed: it returns
// the compressed point B = A + f_k(i, j)·G for caterpillar public key A.
func ExpandPublic(seedPub, key []byte, i, j uint32) ([]byte, error) {
	a, err := decodePoint(seedPub)
	if err != nil {
		return nil, model.Wrap(model.ErrInvalidArgument, "keyrecon: seed public key", err)
	}
	f, err := expand(key, i, j, UsageSigning)
	if err != nil {
		return nil, err
	}
	b := curve.NewElement().MulGen(toScalar(f))
	b.Add(b, a)
	if b.IsIdentity() {
		return nil, model.NewError(model.ErrInternal, "keyrecon: degenerate butterfly public key")
	}
	return compress(b)
}

package grpccas

import (
	"github.com/ipfs/go-cid"
	"golang.org/x/crypto/cryptobyte"

	"xdao.co/v2xsec/storage"
)

// A listing frame is count:u32 followed by count binary CIDs, each with a
// u16 length prefix.

func encodeListing(ids []cid.Cid) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint32(uint32(len(ids)))
	for _, id := range ids {
		raw := id.Bytes()
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(raw) })
	}
	return b.Bytes()
}

func decodeListing(in []byte) ([]cid.Cid, error) {
	s := cryptobyte.String(in)
	var n uint32
	if !s.ReadUint32(&n) {
		return nil, storage.ErrInvalidCID
	}
	out := make([]cid.Cid, 0, min(int(n), 1024))
	for i := uint32(0); i < n; i++ {
		var raw cryptobyte.String
		if !s.ReadUint16LengthPrefixed(&raw) {
			return nil, storage.ErrInvalidCID
		}
		id, err := cid.Cast([]byte(raw))
		if err != nil {
			return nil, storage.ErrInvalidCID
		}
		out = append(out, id)
	}
	if !s.Empty() {
		return nil, storage.ErrInvalidCID
	}
	return out, nil
}

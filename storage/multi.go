package storage

import (
	"errors"

	"github.com/ipfs/go-cid"
)

// MultiCAS reads through an ordered list of stores and writes to the first.
//
// The order of Adapters is the lookup order; a certificate found in a later
// store is returned as is and not copied forward.
type MultiCAS struct {
	Adapters []CAS
}

var _ CAS = MultiCAS{}

func (m MultiCAS) Put(bytes []byte) (cid.Cid, error) {
	if len(m.Adapters) == 0 {
		return cid.Undef, ErrNoBackends
	}
	return m.Adapters[0].Put(bytes)
}

func (m MultiCAS) Get(id cid.Cid) ([]byte, error) {
	return getFirst(id, m.Adapters)
}

func (m MultiCAS) Has(id cid.Cid) bool {
	for _, cas := range m.Adapters {
		if cas.Has(id) {
			return true
		}
	}
	return false
}

// List merges the listings of every listable adapter, first occurrence first.
func (m MultiCAS) List() ([]cid.Cid, error) {
	return listAll(m.Adapters)
}

// getFirst returns the first successful read. A hard error from any store
// stops the search; ErrNotFound moves on to the next one.
func getFirst(id cid.Cid, stores []CAS) ([]byte, error) {
	for _, cas := range stores {
		if cas == nil {
			continue
		}
		b, err := cas.Get(id)
		if err == nil {
			return b, nil
		}
		if !IsNotFound(err) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func listAll(stores []CAS) ([]cid.Cid, error) {
	seen := map[cid.Cid]struct{}{}
	var out []cid.Cid
	listed := false
	for _, cas := range stores {
		ids, err := List(cas)
		if errors.Is(err, ErrNotListable) {
			continue
		}
		if err != nil {
			return nil, err
		}
		listed = true
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	if !listed {
		return nil, ErrNotListable
	}
	return out, nil
}

// Package cmh holds the signing credentials of the local station: crypto
// material handles loaded from CMHF containers.
//
// A sequential container yields one credential. A rotate container yields a
// set of jMax+1 credentials of which exactly one is active at a time; the
// active slot advances every rotation interval.
package cmh

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"xdao.co/v2xsec/cidutil"
	"xdao.co/v2xsec/cmhf"
	"xdao.co/v2xsec/keyrecon"
	"xdao.co/v2xsec/model"
	"xdao.co/v2xsec/wire"
)

// Credential is one certificate with its private key.
type Credential struct {
	Kind     cmhf.Kind
	Cert     []byte
	Hash     cidutil.Hash
	Contents model.CertificateContents
	Private  []byte
	Public   []byte
	PeriodI  uint32
	J        uint32
}

// HashedID8 returns the signer digest of the credential's certificate.
func (c *Credential) HashedID8() model.HashedID8 { return c.Hash.HashedID8() }

type set struct {
	common  cmhf.Common
	rotate  bool
	members []*Credential
}

// Store is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	codec wire.Codec
	log   *logrus.Logger
	sets  []*set

	// RotationInterval is the dwell time of one rotate slot.
	RotationInterval model.Time64
}

// DefaultRotationInterval is the slot dwell time used when none is configured.
const DefaultRotationInterval = 5 * model.Minute

// NewStore returns an empty store. A nil logger uses the logrus standard logger.
func NewStore(codec wire.Codec, log *logrus.Logger) *Store {
	if codec == nil {
		codec = wire.Compact{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{codec: codec, log: log, RotationInterval: DefaultRotationInterval}
}

// AddContainer decodes a CMHF container and adds its credentials. It returns
// the number of credentials added.
func (s *Store) AddContainer(b []byte) (int, error) {
	rec, err := cmhf.Decode(b)
	if err != nil {
		return 0, err
	}
	st := &set{common: rec.Common, rotate: rec.Kind.Rotate()}
	for j, ind := range rec.Individuals {
		cert, err := s.codec.DecodeCertificate(ind.Cert)
		if err != nil {
			return 0, model.Wrap(model.ErrCorruptContainer, "cmh: certificate in container", err)
		}
		pub, err := keyrecon.PublicFromPrivate(ind.PrivateKey[:])
		if err != nil {
			return 0, model.Wrap(model.ErrCorruptContainer, "cmh: private key in container", err)
		}
		if cert.Contents.Kind == model.CertExplicit && string(cert.Contents.VerifyKey.Point) != string(pub) {
			return 0, model.NewError(model.ErrKeyMismatch, "cmh: private key does not match explicit certificate")
		}
		st.members = append(st.members, &Credential{
			Kind:     rec.Kind,
			Cert:     ind.Cert,
			Hash:     cidutil.Hash(ind.CertHash),
			Contents: cert.Contents,
			Private:  append([]byte(nil), ind.PrivateKey[:]...),
			Public:   pub,
			PeriodI:  rec.PeriodI,
			J:        uint32(j),
		})
	}

	s.mu.Lock()
	s.sets = append(s.sets, st)
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"kind":    rec.Kind.String(),
		"count":   len(st.members),
		"period":  rec.PeriodI,
		"issuer":  rec.IssuerH8.String(),
		"psids":   rec.Psids,
		"expires": rec.ValidEnd.Time64().Time(),
	}).Info("cmh: credentials loaded")
	return len(st.members), nil
}

func permits(c *Credential, psid model.Psid) bool { return c.Contents.Permits(psid) }

// Select returns the credential to sign a message for psid at now.
//
// Sequential credentials are preferred by latest validity start. Among
// rotate sets, the active member is slot (now / RotationInterval) mod n of
// the members valid at now.
func (s *Store) Select(psid model.Psid, now model.Time64) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *Credential
	for _, st := range s.sets {
		var valid []*Credential
		for _, c := range st.members {
			if c.Contents.Validity.Contains(now) && permits(c, psid) {
				valid = append(valid, c)
			}
		}
		if len(valid) == 0 {
			continue
		}
		pick := valid[0]
		if st.rotate {
			interval := s.RotationInterval
			if interval == 0 {
				interval = DefaultRotationInterval
			}
			pick = valid[int(uint64(now/interval)%uint64(len(valid)))]
		}
		if best == nil || pick.Contents.Validity.Start > best.Contents.Validity.Start {
			best = pick
		}
	}
	if best == nil {
		return nil, model.Errorf(model.ErrNoCredential, "cmh: no credential for psid %d at %d", psid, now)
	}
	return best, nil
}

// Lookup returns the credential whose certificate hashes to h.
func (s *Store) Lookup(h cidutil.Hash) (*Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.sets {
		for _, c := range st.members {
			if c.Hash == h {
				return c, true
			}
		}
	}
	return nil, false
}

// Len returns the number of credentials held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, st := range s.sets {
		n += len(st.members)
	}
	return n
}

// Prune drops sets whose validity ended before now and returns how many
// credentials were removed.
func (s *Store) Prune(now model.Time64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.sets[:0]
	removed := 0
	for _, st := range s.sets {
		if st.common.ValidEnd.Time64() <= now {
			removed += len(st.members)
			continue
		}
		kept = append(kept, st)
	}
	for i := len(kept); i < len(s.sets); i++ {
		s.sets[i] = nil
	}
	s.sets = kept
	return removed
}

// Credentials returns every held credential ordered by validity start.
func (s *Store) Credentials() []*Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Credential
	for _, st := range s.sets {
		out = append(out, st.members...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Contents.Validity.Start < out[j].Contents.Validity.Start })
	return out
}

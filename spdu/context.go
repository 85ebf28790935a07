// Package spdu builds and processes secured protocol data units.
//
// All shared state (certificate cache, profile table, signing credentials)
// is owned by a SecurityContext which is passed to every call. Processing
// runs in three phases: signer resolution under the context lock, key
// reconstruction and signature verification without it, then revalidation
// and the receive checks under the lock again. A certificate revoked while a
// message is in the middle phase is never accepted.
package spdu

import (
	"sync"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"

	"xdao.co/v2xsec/certcache"
	"xdao.co/v2xsec/cidutil"
	"xdao.co/v2xsec/cmh"
	"xdao.co/v2xsec/executor"
	"xdao.co/v2xsec/model"
	"xdao.co/v2xsec/profile"
	"xdao.co/v2xsec/storage"
	"xdao.co/v2xsec/wire"
)

// Options configures a SecurityContext. Nil fields get working defaults.
type Options struct {
	Codec    wire.Codec
	Executor executor.Executor
	Cache    *certcache.Cache
	Profiles *profile.Table
	Creds    *cmh.Store
	// Store, when set, receives every newly seen certificate.
	Store   storage.CAS
	Log     *logrus.Logger
	Metrics metrics.Registry
	// KeyTTL bounds how long a reconstructed key is reused.
	KeyTTL model.Time64
}

// DefaultKeyTTL is used when Options.KeyTTL is zero.
const DefaultKeyTTL = 5 * model.Minute

// SecurityContext owns the state shared by construction and processing.
type SecurityContext struct {
	mu       sync.Mutex
	cache    *certcache.Cache
	profiles *profile.Table

	codec   wire.Codec
	exec    executor.Executor
	creds   *cmh.Store
	store   storage.CAS
	log     *logrus.Logger
	metrics metrics.Registry
	keyTTL  model.Time64
}

// NewSecurityContext returns a context with the given collaborators.
func NewSecurityContext(opts Options) *SecurityContext {
	sc := &SecurityContext{
		cache:    opts.Cache,
		profiles: opts.Profiles,
		codec:    opts.Codec,
		exec:     opts.Executor,
		creds:    opts.Creds,
		store:    opts.Store,
		log:      opts.Log,
		metrics:  opts.Metrics,
		keyTTL:   opts.KeyTTL,
	}
	if sc.log == nil {
		sc.log = logrus.StandardLogger()
	}
	if sc.cache == nil {
		sc.cache = certcache.New(certcache.Options{Log: sc.log})
	}
	if sc.profiles == nil {
		sc.profiles = profile.NewTable(profile.Options{})
	}
	if sc.codec == nil {
		sc.codec = wire.Compact{}
	}
	if sc.exec == nil {
		sc.exec = executor.NewSoftware(nil)
	}
	if sc.creds == nil {
		sc.creds = cmh.NewStore(sc.codec, sc.log)
	}
	if sc.metrics == nil {
		sc.metrics = metrics.NewRegistry()
	}
	if sc.keyTTL == 0 {
		sc.keyTTL = DefaultKeyTTL
	}
	return sc
}

// Credentials returns the signing credential store.
func (sc *SecurityContext) Credentials() *cmh.Store { return sc.creds }

// Metrics returns the registry counters are recorded in.
func (sc *SecurityContext) Metrics() metrics.Registry { return sc.metrics }

// AddProfile installs a security profile.
func (sc *SecurityContext) AddProfile(e profile.Entry) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.profiles.Add(e)
}

// FlushProfiles removes every security profile.
func (sc *SecurityContext) FlushProfiles() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.profiles.Flush()
}

// AddTrustAnchor inserts an explicit self-signed certificate that is never
// evicted. Certificates it issued can then be resolved.
func (sc *SecurityContext) AddTrustAnchor(raw []byte, now model.Time64) (cidutil.Hash, error) {
	cert, err := sc.codec.DecodeCertificate(raw)
	if err != nil {
		return cidutil.Hash{}, err
	}
	if cert.Contents.Kind != model.CertExplicit || cert.Contents.Issuer.Kind != model.IssuerSelf {
		return cidutil.Hash{}, model.NewError(model.ErrInvalidCert, "spdu: trust anchor must be explicit and self-signed")
	}
	h := cidutil.Sum(raw)

	sc.mu.Lock()
	e, _ := sc.cache.FindOrInsert(h, raw, &cert.Contents, now)
	sc.cache.LinkIssuer(e)
	sc.cache.Pin(h)
	sc.mu.Unlock()

	sc.persist(e)
	sc.log.WithField("h8", h.HashedID8().String()).Info("spdu: trust anchor added")
	return h, nil
}

// AddCertificate inserts an issuing certificate learned out of band.
func (sc *SecurityContext) AddCertificate(raw []byte, now model.Time64) (cidutil.Hash, error) {
	cert, err := sc.codec.DecodeCertificate(raw)
	if err != nil {
		return cidutil.Hash{}, err
	}
	h := cidutil.Sum(raw)
	sc.mu.Lock()
	e, created := sc.cache.FindOrInsert(h, raw, &cert.Contents, now)
	sc.cache.LinkIssuer(e)
	sc.mu.Unlock()
	if created {
		sc.persist(e)
	}
	return h, nil
}

// Revoke marks a certificate revoked. Messages still in flight that were
// signed with it fail when they re-enter the locked phase.
func (sc *SecurityContext) Revoke(h cidutil.Hash) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.cache.MarkRevoked(h)
}

// RecordCRL notes when the next CRL of a series is due.
func (sc *SecurityContext) RecordCRL(craca model.HashedID3, series uint16, nextUpdate model.Time64) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.cache.RecordCRL(craca, series, nextUpdate)
}

// Evict drops expired cache entries.
func (sc *SecurityContext) Evict(now model.Time64) int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.cache.Evict(now)
}

// CacheLen returns the number of cached certificates.
func (sc *SecurityContext) CacheLen() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.cache.Len()
}

// persist writes a newly cached certificate to the configured store. The
// store is a warm-start aid, so a failure is logged and counted but does not
// fail the message.
func (sc *SecurityContext) persist(e *certcache.Entry) {
	if sc.store == nil {
		return
	}
	if _, err := certcache.Persist(sc.store, e); err != nil {
		metrics.GetOrRegisterCounter("certcache.persist.fail", sc.metrics).Inc(1)
		sc.log.WithError(err).WithField("h8", e.ID8.String()).Warn("spdu: certificate not persisted")
	}
}

func (sc *SecurityContext) count(name string) {
	metrics.GetOrRegisterCounter(name, sc.metrics).Inc(1)
}

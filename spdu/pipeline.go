package spdu

import (
	"context"
	"fmt"
	"time"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"

	"xdao.co/v2xsec/certcache"
	"xdao.co/v2xsec/cidutil"
	"xdao.co/v2xsec/executor"
	"xdao.co/v2xsec/keyrecon"
	"xdao.co/v2xsec/model"
	"xdao.co/v2xsec/profile"
	"xdao.co/v2xsec/wire"
)

// State is the progress of one SPDU through the pipeline.
type State uint8

const (
	StateReceived State = iota
	StateDecoded
	StateSignerResolved
	StateKeyReady
	StateVerified
	StateChecksPassed
	StateFailed
)

var stateNames = [...]string{"Received", "Decoded", "SignerResolved", "KeyReady", "Verified", "ChecksPassed", "Failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// SignedPayload is the outcome of a successfully processed SPDU.
type SignedPayload struct {
	Payload []byte
	// Unsecured is set for unsecured data; Header and signer fields are then zero.
	Unsecured bool
	Header    model.HeaderInfo
	Signer    cidutil.Hash
	SignerID8 model.HashedID8
	// Verified is false when the profile disables verification.
	Verified bool
}

// Result is the terminal state of one SPDU.
type Result struct {
	State State
	// Reached is the last state entered before a failure.
	Reached State
	Payload *SignedPayload
	Err     error
}

// Code returns the result code, OK on success.
func (r Result) Code() model.Code { return model.CodeOf(r.Err) }

// ProcessOptions carries receive context beyond the message itself.
type ProcessOptions struct {
	RxLocation *model.Location
	// Payload holds values extracted from the payload by the application for
	// checks configured with FromPayload.
	Payload profile.PayloadFields
}

// job is one SPDU in flight between the phases.
type job struct {
	raw    []byte
	psid   model.Psid
	rxTime model.Time64
	opts   ProcessOptions
	start  time.Time

	state State
	res   *Result

	sd         *model.SignedData
	tbs        []byte
	signerHash cidutil.Hash
	signerRaw  []byte
	verify     bool

	// Snapshot taken in phase A for the unlocked phase.
	pub         []byte
	reconstruct bool
	reconPoint  []byte
	issuerHash  cidutil.Hash
	issuerPub   []byte
	// check is an issuer signature phase B must verify before the key is used.
	check *issuerCheck
	// reconstructed is set once phase B derived the key.
	reconstructed bool
}

// issuerCheck is the issuer signature over an explicit certificate that has
// not been verified yet.
type issuerCheck struct {
	cert      cidutil.Hash
	raw       []byte
	issuer    cidutil.Hash
	issuerPub []byte
}

// maxChainDepth bounds the walk from a certificate to its trust anchor.
const maxChainDepth = 8

func (j *job) fail(err error) *Result {
	j.res = &Result{State: StateFailed, Reached: j.state, Err: err}
	return j.res
}

func (j *job) succeed(p *SignedPayload) *Result {
	j.state = StateChecksPassed
	j.res = &Result{State: StateChecksPassed, Reached: StateChecksPassed, Payload: p}
	return j.res
}

// Process verifies raw received for rxPsid at rxTime.
func (sc *SecurityContext) Process(ctx context.Context, raw []byte, rxPsid model.Psid, rxTime model.Time64) (*SignedPayload, error) {
	r := sc.ProcessWithOptions(ctx, raw, rxPsid, rxTime, ProcessOptions{})
	return r.Payload, r.Err
}

// ProcessWithOptions runs every phase synchronously and returns the full result.
func (sc *SecurityContext) ProcessWithOptions(ctx context.Context, raw []byte, rxPsid model.Psid, rxTime model.Time64, opts ProcessOptions) Result {
	j := sc.newJob(raw, rxPsid, rxTime, opts)
	if r := sc.resolve(j); r != nil {
		return sc.done(j)
	}
	if r := sc.prepareKey(ctx, j); r != nil {
		return sc.done(j)
	}
	sc.finish(j, sc.verify(ctx, j))
	return sc.done(j)
}

func (sc *SecurityContext) newJob(raw []byte, psid model.Psid, rxTime model.Time64, opts ProcessOptions) *job {
	return &job{raw: raw, psid: psid, rxTime: rxTime, opts: opts, start: time.Now()}
}

// done records metrics for a finished job.
func (sc *SecurityContext) done(j *job) Result {
	metrics.GetOrRegisterTimer("spdu.process.latency", sc.metrics).UpdateSince(j.start)
	if j.res.Err != nil {
		sc.count("spdu.process.fail." + model.CodeOf(j.res.Err).String())
		sc.log.WithFields(logrus.Fields{
			"psid":    j.psid,
			"reached": j.res.Reached.String(),
			"code":    model.CodeOf(j.res.Err).String(),
		}).Debug("spdu: rejected")
	} else {
		sc.count("spdu.process.ok")
	}
	return *j.res
}

// resolve decodes the message and, under the lock, resolves its signer.
// It returns a non-nil result when the job is finished.
func (sc *SecurityContext) resolve(j *job) *Result {
	data, err := sc.codec.DecodeData(j.raw)
	if err != nil {
		return j.fail(err)
	}
	j.state = StateDecoded
	if data.Content == model.ContentUnsecured {
		return j.succeed(&SignedPayload{Payload: data.Unsecured, Unsecured: true})
	}
	sd := data.Signed
	if sd == nil {
		return j.fail(model.NewError(model.ErrMalformed, "spdu: signed content missing"))
	}
	j.sd = sd
	if sd.TBS.Header.Psid != j.psid {
		return j.fail(model.Errorf(model.ErrPsidMismatch, "spdu: message psid %d, expected %d", sd.TBS.Header.Psid, j.psid))
	}
	if j.tbs, err = sc.codec.EncodeToBeSigned(&sd.TBS); err != nil {
		return j.fail(err)
	}

	// A certificate signer is decoded before taking the lock.
	var signerCert *model.Certificate
	if sd.Signer.Kind == model.SignerCertificate {
		if signerCert, err = sc.codec.DecodeCertificate(sd.Signer.Certificate); err != nil {
			return j.fail(err)
		}
		j.signerHash = cidutil.Sum(sd.Signer.Certificate)
	}

	var created *certcache.Entry
	r := sc.resolveLocked(j, signerCert, &created)
	if created != nil {
		sc.persist(created)
	}
	return r
}

func (sc *SecurityContext) resolveLocked(j *job, signerCert *model.Certificate, created **certcache.Entry) *Result {
	sd := j.sd
	sc.mu.Lock()
	defer sc.mu.Unlock()

	prof, err := sc.profiles.Get(j.psid)
	if err != nil {
		return j.fail(err)
	}
	j.verify = prof.Rx.VerifyData

	var entry *certcache.Entry
	switch sd.Signer.Kind {
	case model.SignerDigest:
		e, ok := sc.cache.LookupDigest(sd.Signer.Digest, j.rxTime)
		if !ok {
			return j.fail(model.Errorf(model.ErrUnknownSigner, "spdu: unknown signer %s", sd.Signer.Digest))
		}
		entry = e
	case model.SignerCertificate:
		var isNew bool
		entry, isNew = sc.cache.FindOrInsert(j.signerHash, sd.Signer.Certificate, &signerCert.Contents, j.rxTime)
		if isNew {
			sc.cache.LinkIssuer(entry)
			*created = entry
		}
	default:
		return j.fail(model.Errorf(model.ErrUnsupported, "spdu: signer kind %d", sd.Signer.Kind))
	}
	if entry.Revoked || sc.cache.IsRevoked(entry.Hash) {
		return j.fail(model.Errorf(model.ErrSignerRevoked, "spdu: signer %s revoked", entry.ID8))
	}
	j.signerHash = entry.Hash
	j.signerRaw = entry.Raw
	j.state = StateSignerResolved

	if !j.verify {
		return j.succeed(j.payload(entry.ID8, false))
	}

	switch {
	case entry.Contents.Kind == model.CertExplicit:
		if j.check, err = sc.explicitTrust(entry); err != nil {
			return j.fail(err)
		}
		j.pub = entry.Contents.VerifyKey.Point
	case entry.Key.Valid(j.rxTime):
		j.pub = entry.Key.Public
	default:
		issuer, ok := sc.cache.Issuer(entry)
		if !ok {
			issuer, ok = sc.cache.LinkIssuer(entry)
		}
		if !ok {
			return j.fail(model.Errorf(model.ErrKeyReconstructionFailed, "spdu: issuer %s of %s not known",
				entry.Contents.Issuer.Digest, entry.ID8))
		}
		if issuer.Revoked || sc.cache.IsRevoked(issuer.Hash) {
			return j.fail(model.Errorf(model.ErrSignerRevoked, "spdu: issuer %s revoked", issuer.ID8))
		}
		switch {
		case issuer.Contents.Kind == model.CertExplicit:
			if j.check, err = sc.explicitTrust(issuer); err != nil {
				return j.fail(err)
			}
			j.issuerPub = issuer.Contents.VerifyKey.Point
		case issuer.Key.Valid(j.rxTime):
			j.issuerPub = issuer.Key.Public
		default:
			return j.fail(model.Errorf(model.ErrKeyReconstructionFailed, "spdu: issuer %s has no usable key", issuer.ID8))
		}
		j.reconstruct = true
		j.reconPoint = entry.Contents.VerifyKey.Point
		j.issuerHash = issuer.Hash
	}
	return nil
}

// anchored reports whether e is a trust anchor, or an explicit certificate
// whose verified issuer chain reaches one with nothing on the way revoked.
func (sc *SecurityContext) anchored(e *certcache.Entry) bool {
	for depth := 0; depth < maxChainDepth; depth++ {
		if e.Contents.Kind != model.CertExplicit || e.Revoked || sc.cache.IsRevoked(e.Hash) {
			return false
		}
		if e.Pinned {
			return true
		}
		if !e.Trusted {
			return false
		}
		next, ok := sc.cache.Issuer(e)
		if !ok {
			return false
		}
		e = next
	}
	return false
}

// explicitTrust decides whether the key of explicit certificate e may be
// used. A certificate on an anchored chain needs nothing more; otherwise its
// issuer must be anchored and the returned issuer signature must verify.
func (sc *SecurityContext) explicitTrust(e *certcache.Entry) (*issuerCheck, error) {
	if sc.anchored(e) {
		return nil, nil
	}
	if e.Contents.Issuer.Kind != model.IssuerDigest {
		return nil, model.Errorf(model.ErrUnknownSigner, "spdu: %s is self-signed and not a trust anchor", e.ID8)
	}
	issuer, ok := sc.cache.Issuer(e)
	if !ok {
		issuer, ok = sc.cache.LinkIssuer(e)
	}
	if !ok {
		return nil, model.Errorf(model.ErrUnknownSigner, "spdu: issuer %s of %s not known", e.Contents.Issuer.Digest, e.ID8)
	}
	if issuer.Revoked || sc.cache.IsRevoked(issuer.Hash) {
		return nil, model.Errorf(model.ErrSignerRevoked, "spdu: issuer %s revoked", issuer.ID8)
	}
	if !sc.anchored(issuer) {
		return nil, model.Errorf(model.ErrUnknownSigner, "spdu: issuer %s of %s is not trusted", issuer.ID8, e.ID8)
	}
	return &issuerCheck{cert: e.Hash, raw: e.Raw, issuer: issuer.Hash, issuerPub: issuer.Contents.VerifyKey.Point}, nil
}

func (j *job) payload(id8 model.HashedID8, verified bool) *SignedPayload {
	return &SignedPayload{
		Payload:   j.sd.TBS.Payload,
		Header:    j.sd.TBS.Header,
		Signer:    j.signerHash,
		SignerID8: id8,
		Verified:  verified,
	}
}

// prepareKey verifies a pending issuer signature and reconstructs the
// signer's key when phase A found none cached. It runs without the lock.
func (sc *SecurityContext) prepareKey(ctx context.Context, j *job) *Result {
	if j.check != nil {
		if err := sc.verifyIssuerSignature(ctx, j.check); err != nil {
			return j.fail(err)
		}
	}
	if j.reconstruct {
		pub, err := keyrecon.ReconstructPublic(j.reconPoint, j.signerRaw, j.issuerHash[:], j.issuerPub)
		if err != nil {
			return j.fail(model.Wrap(model.ErrKeyReconstructionFailed, "spdu: reconstruct signer key", err))
		}
		j.pub = pub
		j.reconstructed = true
	}
	j.state = StateKeyReady
	return nil
}

func (sc *SecurityContext) verifyIssuerSignature(ctx context.Context, c *issuerCheck) error {
	cert, err := sc.codec.DecodeCertificate(c.raw)
	if err != nil {
		return err
	}
	if cert.Signature == nil {
		return model.Errorf(model.ErrInvalidCert, "spdu: %s carries no issuer signature", c.cert.HashedID8())
	}
	tbs, err := wire.CertificateToBeSigned(sc.codec, cert)
	if err != nil {
		return err
	}
	d, err := executor.Digest(model.SHA256, tbs)
	if err != nil {
		return err
	}
	if err := sc.exec.Verify(ctx, c.issuerPub, d, *cert.Signature); err != nil {
		if model.CodeOf(err).Class() == model.ClassCrypto {
			return model.Wrap(model.ErrInvalidCert, fmt.Sprintf("spdu: issuer signature on %s", c.cert.HashedID8()), err)
		}
		return executorErr(err)
	}
	return nil
}

// executorErr keeps failures of the executor itself apart from signature
// failures: an error without a code is reported as Unavailable.
func executorErr(err error) error {
	if model.CodeOf(err) == model.ErrInternal {
		return model.Wrap(model.ErrUnavailable, "spdu: executor", err)
	}
	return err
}

func (sc *SecurityContext) digest(j *job) ([]byte, error) {
	return executor.SignerDigest(j.sd.HashAlg, j.tbs, j.signerRaw)
}

// verify checks the signature synchronously.
func (sc *SecurityContext) verify(ctx context.Context, j *job) error {
	d, err := sc.digest(j)
	if err != nil {
		return err
	}
	return sc.exec.Verify(ctx, j.pub, d, j.sd.Signature)
}

// verifyAsync starts the signature check and returns its future.
func (sc *SecurityContext) verifyAsync(ctx context.Context, j *job) *executor.Future {
	d, err := sc.digest(j)
	if err != nil {
		return executor.Resolved(err)
	}
	return executor.VerifyAsync(ctx, sc.exec, j.pub, d, j.sd.Signature)
}

// finish takes the verification outcome and, under the lock, revalidates
// the signer and runs the receive checks.
func (sc *SecurityContext) finish(j *job, verr error) *Result {
	if verr != nil {
		return j.fail(executorErr(verr))
	}
	j.state = StateVerified

	sc.mu.Lock()
	defer sc.mu.Unlock()

	entry, ok := sc.cache.Lookup(j.signerHash, j.rxTime)
	if !ok {
		return j.fail(model.Errorf(model.ErrUnknownSigner, "spdu: signer %s evicted during verification", j.signerHash.HashedID8()))
	}
	if entry.Revoked || sc.cache.IsRevoked(entry.Hash) {
		return j.fail(model.Errorf(model.ErrSignerRevoked, "spdu: signer %s revoked", entry.ID8))
	}
	if j.check != nil {
		if sc.cache.IsRevoked(j.check.issuer) {
			return j.fail(model.Errorf(model.ErrSignerRevoked, "spdu: issuer %s revoked during verification", j.check.issuer.HashedID8()))
		}
		sc.cache.MarkTrusted(j.check.cert)
	}
	if j.reconstructed {
		sc.cache.SetKey(entry, j.pub, nil, j.rxTime+sc.keyTTL)
	}
	prof, err := sc.profiles.Get(j.psid)
	if err != nil {
		return j.fail(err)
	}
	if !entry.Contents.Permits(j.psid) {
		return j.fail(model.Errorf(model.ErrPsidNotPermitted, "spdu: signer %s not permitted for psid %d", entry.ID8, j.psid))
	}

	obs := &profile.Observation{
		RxTime:       j.rxTime,
		RxLocation:   j.opts.RxLocation,
		Header:       j.sd.TBS.Header,
		Payload:      j.opts.Payload,
		Signature:    j.sd.Signature.Bytes(),
		CertValidity: entry.Contents.Validity,
		CertRegion:   entry.Contents.Region,
		CracaID:      entry.Contents.CracaID,
		CrlSeries:    entry.Contents.CrlSeries,
	}
	if next, ok := sc.cache.CRLNextUpdate(entry.Contents.CracaID, entry.Contents.CrlSeries); ok {
		obs.CRLNextUpdate = &next
	}
	if err := prof.CheckConsistency(obs); err != nil {
		return j.fail(err)
	}
	if err := prof.CheckRelevance(obs); err != nil {
		return j.fail(err)
	}
	if err := prof.Replay(obs); err != nil {
		return j.fail(err)
	}
	return j.succeed(j.payload(entry.ID8, true))
}

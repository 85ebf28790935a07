package spdu

import (
	"context"

	"github.com/sirupsen/logrus"

	"xdao.co/v2xsec/executor"
	"xdao.co/v2xsec/model"
)

// HeaderOptions carries values for optional header fields.
type HeaderOptions struct {
	// Now is the generation time; zero means the current time.
	Now model.Time64
	// Location is required when the profile includes the generation location.
	Location *model.Location
}

// SignerPolicy overrides the profile's signer identification choice.
type SignerPolicy uint8

const (
	// SignerAuto follows the profile's minimum inter-certificate time.
	SignerAuto SignerPolicy = iota
	SignerForceDigest
	SignerForceCertificate
)

// ConstructSigned signs payload for psid with the credential currently
// selected for it and returns the encoded SPDU.
func (sc *SecurityContext) ConstructSigned(ctx context.Context, payload []byte, psid model.Psid, h HeaderOptions, policy SignerPolicy) ([]byte, error) {
	now := h.Now
	if now == 0 {
		now = model.Now()
	}
	cred, err := sc.creds.Select(psid, now)
	if err != nil {
		return nil, err
	}

	sc.mu.Lock()
	prof, err := sc.profiles.Get(psid)
	if err != nil {
		sc.mu.Unlock()
		return nil, err
	}
	tx := prof.Tx
	if tx.GenLocationHdr && h.Location == nil {
		sc.mu.Unlock()
		return nil, model.Errorf(model.ErrMissingHeaderField, "spdu: profile %d requires a generation location", psid)
	}
	var kind model.SignerKind
	switch policy {
	case SignerForceDigest:
		kind = model.SignerDigest
	case SignerForceCertificate:
		kind = model.SignerCertificate
	default:
		kind = prof.PeekSignerID(now)
	}
	sc.mu.Unlock()

	header := model.HeaderInfo{Psid: psid}
	if tx.GenTimeHdr {
		gen := now
		header.GenerationTime = &gen
	}
	if tx.ExpTimeHdr {
		exp := now + tx.SpduLifetime
		header.ExpiryTime = &exp
	}
	if tx.GenLocationHdr {
		loc := *h.Location
		header.GenerationLocation = &loc
	}

	sd := &model.SignedData{
		HashAlg: model.SHA256,
		TBS:     model.ToBeSignedData{Payload: payload, Header: header},
		Signer:  model.SignerIdentifier{Kind: kind},
	}
	if kind == model.SignerCertificate {
		sd.Signer.Certificate = cred.Cert
	} else {
		sd.Signer.Digest = cred.HashedID8()
	}
	tbs, err := sc.codec.EncodeToBeSigned(&sd.TBS)
	if err != nil {
		return nil, err
	}
	digest, err := executor.SignerDigest(sd.HashAlg, tbs, cred.Cert)
	if err != nil {
		return nil, err
	}
	if sd.Signature, err = sc.exec.Sign(ctx, cred.Private, digest, tx.SignPointMode); err != nil {
		return nil, err
	}
	out, err := sc.codec.EncodeData(&model.Data{Version: model.ProtocolVersion, Content: model.ContentSigned, Signed: sd})
	if err != nil {
		return nil, err
	}
	if policy == SignerAuto {
		// The window only starts once a certificate-signed message exists.
		sc.mu.Lock()
		if prof, err := sc.profiles.Get(psid); err == nil {
			prof.CommitSignerID(kind, now)
		}
		sc.mu.Unlock()
	}
	sc.count("spdu.construct.ok")
	sc.log.WithFields(logrus.Fields{"psid": psid, "signer": kind.String(), "h8": cred.HashedID8().String()}).Debug("spdu: signed")
	return out, nil
}

// ConstructUnsecured wraps payload without protection.
func (sc *SecurityContext) ConstructUnsecured(payload []byte) ([]byte, error) {
	return sc.codec.EncodeData(&model.Data{Version: model.ProtocolVersion, Content: model.ContentUnsecured, Unsecured: payload})
}

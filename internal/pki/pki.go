// Package pki issues certificates for development material and tests: a
// self-signed explicit root, explicit subordinate authorities and implicit
// end-entity certificates (sequential or butterfly) encoded with
// wire.Compact.
package pki

import (
	"context"

	"xdao.co/v2xsec/cidutil"
	"xdao.co/v2xsec/executor"
	"xdao.co/v2xsec/keyrecon"
	"xdao.co/v2xsec/model"
	"xdao.co/v2xsec/wire"
)

// Authority is an explicit certificate and its signing key.
type Authority struct {
	Priv     []byte
	Pub      []byte
	Cert     []byte
	Hash     cidutil.Hash
	Contents model.CertificateContents
}

// EndEntity is an issued implicit certificate with its reconstructed key.
type EndEntity struct {
	Cert      []byte
	Hash      cidutil.Hash
	Contents  model.CertificateContents
	InitPriv  []byte
	PrivRecon []byte
	Key       keyrecon.KeyPair
}

var codec wire.Codec = wire.Compact{}

// NewRoot creates a self-signed explicit authority certificate valid over
// validity and permitted for psids.
func NewRoot(validity model.ValidityPeriod, psids ...model.Psid) (*Authority, error) {
	priv, err := keyrecon.RandomScalar(nil)
	if err != nil {
		return nil, err
	}
	return NewRootWithKey(priv, validity, psids...)
}

// NewRootWithKey is NewRoot with a caller-supplied private key.
func NewRootWithKey(priv []byte, validity model.ValidityPeriod, psids ...model.Psid) (*Authority, error) {
	pub, err := keyrecon.PublicFromPrivate(priv)
	if err != nil {
		return nil, err
	}
	a := &Authority{Priv: priv, Pub: pub}
	a.Contents = model.CertificateContents{
		Kind:           model.CertExplicit,
		Issuer:         model.IssuerID{Kind: model.IssuerSelf, HashAlg: model.SHA256},
		Subject:        model.SubjectID{Kind: model.SubjectHostName, HostName: "root.v2xsec.test"},
		Validity:       validity,
		AppPermissions: psids,
		VerifyKey:      model.VerificationKeyIndicator{Kind: model.VerificationKey, Point: pub},
	}
	if a.Cert, err = signExplicit(priv, a.Contents); err != nil {
		return nil, err
	}
	a.Hash = cidutil.Sum(a.Cert)
	return a, nil
}

// signExplicit encodes contents as an explicit certificate signed with priv.
func signExplicit(priv []byte, contents model.CertificateContents) ([]byte, error) {
	c := &model.Certificate{Contents: contents}
	tbs, err := wire.CertificateToBeSigned(codec, c)
	if err != nil {
		return nil, err
	}
	digest, err := executor.Digest(model.SHA256, tbs)
	if err != nil {
		return nil, err
	}
	sig, err := executor.NewSoftware(nil).Sign(context.Background(), priv, digest, model.PointXOnly)
	if err != nil {
		return nil, err
	}
	c.Signature = &sig
	return codec.EncodeCertificate(c)
}

// IssueExplicit creates a subordinate authority whose explicit certificate
// is signed by a. Zero fields of tmpl inherit a's validity and permissions.
func (a *Authority) IssueExplicit(tmpl model.CertificateContents) (*Authority, error) {
	priv, err := keyrecon.RandomScalar(nil)
	if err != nil {
		return nil, err
	}
	pub, err := keyrecon.PublicFromPrivate(priv)
	if err != nil {
		return nil, err
	}
	contents := a.template(tmpl)
	contents.Kind = model.CertExplicit
	contents.VerifyKey = model.VerificationKeyIndicator{Kind: model.VerificationKey, Point: pub}
	cert, err := signExplicit(a.Priv, contents)
	if err != nil {
		return nil, err
	}
	return &Authority{Priv: priv, Pub: pub, Cert: cert, Hash: cidutil.Sum(cert), Contents: contents}, nil
}

// LoadAuthority pairs an encoded explicit certificate with its private key.
func LoadAuthority(cert, priv []byte) (*Authority, error) {
	c, err := codec.DecodeCertificate(cert)
	if err != nil {
		return nil, err
	}
	if c.Contents.Kind != model.CertExplicit {
		return nil, model.NewError(model.ErrInvalidCert, "pki: authority certificate must be explicit")
	}
	pub, err := keyrecon.PublicFromPrivate(priv)
	if err != nil {
		return nil, err
	}
	if string(pub) != string(c.Contents.VerifyKey.Point) {
		return nil, model.NewError(model.ErrKeyMismatch, "pki: private key does not match certificate")
	}
	return &Authority{Priv: priv, Pub: pub, Cert: cert, Hash: cidutil.Sum(cert), Contents: c.Contents}, nil
}

func (a *Authority) template(tmpl model.CertificateContents) model.CertificateContents {
	c := tmpl
	c.Kind = model.CertImplicit
	c.Issuer = model.IssuerID{Kind: model.IssuerDigest, HashAlg: model.SHA256, Digest: a.Hash.HashedID8()}
	if c.Validity.End == 0 {
		c.Validity = a.Contents.Validity
	}
	if c.AppPermissions == nil {
		c.AppPermissions = a.Contents.AppPermissions
	}
	return c
}

func (a *Authority) issue(tmpl model.CertificateContents, requestPub []byte) (keyrecon.Issuance, model.CertificateContents, error) {
	contents := a.template(tmpl)
	iss, err := keyrecon.Issue(nil, a.Priv, requestPub, a.Hash[:], func(reconPoint []byte) ([]byte, error) {
		contents.VerifyKey = model.VerificationKeyIndicator{Kind: model.ReconstructionValue, Point: reconPoint}
		return codec.EncodeCertificate(&model.Certificate{Contents: contents})
	})
	return iss, contents, err
}

// IssueImplicit issues a sequential implicit certificate for a fresh
// requester key and reconstructs its key pair. Zero fields of tmpl inherit
// the authority's validity and permissions.
func (a *Authority) IssueImplicit(tmpl model.CertificateContents) (*EndEntity, error) {
	k, err := keyrecon.RandomScalar(nil)
	if err != nil {
		return nil, err
	}
	ru, err := keyrecon.PublicFromPrivate(k)
	if err != nil {
		return nil, err
	}
	iss, contents, err := a.issue(tmpl, ru)
	if err != nil {
		return nil, err
	}
	kp, err := keyrecon.ReconstructSequential(keyrecon.SequentialInput{
		InitPriv:   k,
		PrivRecon:  iss.PrivRecon,
		Cert:       iss.Cert,
		ReconPoint: iss.ReconPoint,
		IssuerHash: a.Hash[:],
		IssuerPub:  a.Pub,
	})
	if err != nil {
		return nil, err
	}
	return &EndEntity{
		Cert:      iss.Cert,
		Hash:      cidutil.Sum(iss.Cert),
		Contents:  contents,
		InitPriv:  k,
		PrivRecon: iss.PrivRecon,
		Key:       kp,
	}, nil
}

// ButterflyResponse is what a provisioning server returns for slot (i, j):
// the certificate and its private reconstruction value. The holder still
// has to reconstruct the key.
type ButterflyResponse struct {
	I, J      uint32
	Cert      []byte
	PrivRecon []byte
}

// IssueButterfly issues slot (i, j) of a butterfly set for caterpillar
// public key seedPub and expansion key.
func (a *Authority) IssueButterfly(tmpl model.CertificateContents, seedPub, expansionKey []byte, i, j uint32) (ButterflyResponse, error) {
	b, err := keyrecon.ExpandPublic(seedPub, expansionKey, i, j)
	if err != nil {
		return ButterflyResponse{}, err
	}
	iss, _, err := a.issue(tmpl, b)
	if err != nil {
		return ButterflyResponse{}, err
	}
	return ButterflyResponse{I: i, J: j, Cert: iss.Cert, PrivRecon: iss.PrivRecon}, nil
}

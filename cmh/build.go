package cmh

import (
	"fmt"
	"sort"

	"xdao.co/v2xsec/cidutil"
	"xdao.co/v2xsec/cmhf"
	"xdao.co/v2xsec/keyrecon"
	"xdao.co/v2xsec/model"
	"xdao.co/v2xsec/wire"
)

// Issuer identifies the certificate that issued provisioned material.
type Issuer struct {
	Cert []byte
	// Pub is the issuer's verification key. It is taken from Cert when the
	// issuer is explicit and must be supplied otherwise.
	Pub []byte
}

func (is Issuer) resolve(codec wire.Codec) (hash cidutil.Hash, pub []byte, err error) {
	if len(is.Cert) == 0 {
		return hash, nil, model.NewError(model.ErrInvalidArgument, "cmh: issuer certificate required")
	}
	hash = cidutil.Sum(is.Cert)
	pub = is.Pub
	if pub == nil {
		c, err := codec.DecodeCertificate(is.Cert)
		if err != nil {
			return hash, nil, err
		}
		if c.Contents.Kind != model.CertExplicit {
			return hash, nil, model.NewError(model.ErrInvalidArgument, "cmh: implicit issuer needs an explicit public key")
		}
		pub = c.Contents.VerifyKey.Point
	}
	return hash, pub, nil
}

// SequentialInput is a one-shot provisioning response.
type SequentialInput struct {
	Kind      cmhf.Kind
	Issuer    Issuer
	Cert      []byte
	InitPriv  []byte
	PrivRecon []byte
}

// BuildSequential reconstructs the key of a sequential implicit certificate
// and packs it into a CMHF container.
func BuildSequential(codec wire.Codec, in SequentialInput) ([]byte, error) {
	if codec == nil {
		codec = wire.Compact{}
	}
	ih, ipub, err := in.Issuer.resolve(codec)
	if err != nil {
		return nil, err
	}
	cert, err := codec.DecodeCertificate(in.Cert)
	if err != nil {
		return nil, err
	}
	if cert.Contents.Kind != model.CertImplicit {
		return nil, model.NewError(model.ErrInvalidArgument, "cmh: sequential build needs an implicit certificate")
	}
	kp, err := keyrecon.ReconstructSequential(keyrecon.SequentialInput{
		InitPriv:   in.InitPriv,
		PrivRecon:  in.PrivRecon,
		Cert:       in.Cert,
		ReconPoint: cert.Contents.VerifyKey.Point,
		IssuerHash: ih[:],
		IssuerPub:  ipub,
	})
	if err != nil {
		return nil, err
	}
	return cmhf.EncodeSequential(in.Kind, ih.HashedID8(), in.Cert, kp.Private, &cert.Contents)
}

// ProvisionedCert is one slot of a butterfly download.
type ProvisionedCert struct {
	J         uint32
	Cert      []byte
	PrivRecon []byte
}

// RotateInput is a butterfly download for one period.
type RotateInput struct {
	Kind         cmhf.Kind
	I            uint32
	SeedPriv     []byte
	ExpansionKey []byte
	Issuer       Issuer
	Certs        []ProvisionedCert
	Params       keyrecon.Params
}

// BuildRotate reconstructs every slot of a butterfly download and packs the
// set into a CMHF rotate container. Slots must be exactly 0..jMax.
func BuildRotate(codec wire.Codec, in RotateInput) ([]byte, error) {
	if codec == nil {
		codec = wire.Compact{}
	}
	class := keyrecon.ClassPseudonym
	switch in.Kind {
	case cmhf.KindPseudonym:
	case cmhf.KindIdentificationRotate:
		class = keyrecon.ClassIdentification
	default:
		return nil, model.Errorf(model.ErrInvalidArgument, "cmh: %s is not a rotate kind", in.Kind)
	}
	if len(in.Certs) == 0 {
		return nil, model.NewError(model.ErrInvalidArgument, "cmh: empty butterfly download")
	}
	jMax := uint32(len(in.Certs) - 1)
	if err := in.Params.CheckSlot(class, jMax); err != nil {
		return nil, err
	}
	ih, ipub, err := in.Issuer.resolve(codec)
	if err != nil {
		return nil, err
	}

	slots := append([]ProvisionedCert(nil), in.Certs...)
	sort.Slice(slots, func(a, b int) bool { return slots[a].J < slots[b].J })

	certs := make([][]byte, len(slots))
	privs := make([][]byte, len(slots))
	contents := make([]*model.CertificateContents, len(slots))
	for idx, slot := range slots {
		if slot.J != uint32(idx) {
			return nil, model.Errorf(model.ErrInvalidArgument, "cmh: butterfly slots must be 0..%d, missing j=%d", jMax, idx)
		}
		cert, err := codec.DecodeCertificate(slot.Cert)
		if err != nil {
			return nil, err
		}
		kp, err := keyrecon.ReconstructButterfly(keyrecon.ButterflyInput{
			I:            in.I,
			J:            slot.J,
			ExpansionKey: in.ExpansionKey,
			SeedPriv:     in.SeedPriv,
			PrivRecon:    slot.PrivRecon,
			Cert:         slot.Cert,
			ReconPoint:   cert.Contents.VerifyKey.Point,
			IssuerHash:   ih[:],
			IssuerPub:    ipub,
		})
		if err != nil {
			return nil, model.Wrap(model.CodeOf(err), fmt.Sprintf("cmh: slot j=%d", slot.J), err)
		}
		certs[idx] = slot.Cert
		privs[idx] = kp.Private
		contents[idx] = &cert.Contents
	}
	return cmhf.EncodeRotate(in.Kind, in.I, jMax, certs, privs, contents, ih.HashedID8())
}

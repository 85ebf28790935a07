// Package wire is the serialize/deserialize boundary between the security
// layer and the on-air encoding of certificates and SPDUs.
//
// The security layer only ever sees the semantic structs of package model.
// Codec is implemented by the deployment's encoder; Compact is a
// self-contained reference encoding used by the tools and tests of this
// module.
package wire

import "xdao.co/v2xsec/model"

// Codec encodes and decodes certificate and SPDU structures.
//
// Decode methods MUST reject trailing bytes and return a *model.Error with
// code model.ErrMalformed (or model.ErrLengthBounds) on any structural
// failure. EncodeToBeSigned MUST be deterministic: it produces the exact
// bytes the signature is computed over.
type Codec interface {
	EncodeCertificate(c *model.Certificate) ([]byte, error)
	DecodeCertificate(b []byte) (*model.Certificate, error)

	EncodeData(d *model.Data) ([]byte, error)
	DecodeData(b []byte) (*model.Data, error)

	EncodeToBeSigned(tbs *model.ToBeSignedData) ([]byte, error)
}

// CertificateToBeSigned returns the bytes an issuer signs for c: its encoding
// with the signature omitted.
func CertificateToBeSigned(codec Codec, c *model.Certificate) ([]byte, error) {
	return codec.EncodeCertificate(&model.Certificate{Contents: c.Contents})
}

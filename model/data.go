package model

// ProtocolVersion is the only SPDU protocol version accepted.
const ProtocolVersion uint8 = 3

// HeaderInfo is the signed header of an SPDU.
type HeaderInfo struct {
	Psid               Psid
	GenerationTime     *Time64
	ExpiryTime         *Time64
	GenerationLocation *Location
}

type SignerKind uint8

const (
	SignerDigest SignerKind = iota
	SignerCertificate
)

func (k SignerKind) String() string {
	if k == SignerCertificate {
		return "certificate"
	}
	return "digest"
}

// SignerIdentifier names the signer of an SPDU either by the HashedID8 of its
// certificate or by the encoded certificate itself.
type SignerIdentifier struct {
	Kind        SignerKind
	Digest      HashedID8
	Certificate []byte
}

// ToBeSignedData is the portion of SignedData covered by the signature.
type ToBeSignedData struct {
	Payload []byte
	Header  HeaderInfo
}

// SignedData is the signed content of an SPDU.
type SignedData struct {
	HashAlg   HashAlgorithm
	TBS       ToBeSignedData
	Signer    SignerIdentifier
	Signature Signature
}

type ContentKind uint8

const (
	ContentUnsecured ContentKind = iota
	ContentSigned
)

// Data is a decoded SPDU.
type Data struct {
	Version   uint8
	Content   ContentKind
	Unsecured []byte
	Signed    *SignedData
}

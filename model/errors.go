package model

import (
	"errors"
	"fmt"
)

// Code is the stable result code space of the security layer.
//
// Zero is success and every failure is negative. Values are part of the
// external interface (they are persisted and reported across process
// boundaries) and MUST NOT be renumbered; new codes are appended.
type Code int32

const (
	OK Code = 0

	// Malformed input.
	ErrMalformed        Code = -1
	ErrCorruptContainer Code = -2
	ErrLengthBounds     Code = -3
	ErrInvalidArgument  Code = -4
	ErrUnsupported      Code = -5
	ErrInternal         Code = -6

	// Policy violations.
	ErrUnknownSigner      Code = -10
	ErrSignerRevoked      Code = -11
	ErrPsidMismatch       Code = -12
	ErrProfileNotFound    Code = -13
	ErrDuplicateProfile   Code = -14
	ErrInvalidProfile     Code = -15
	ErrPsidNotPermitted   Code = -16
	ErrNoCredential       Code = -17
	ErrGenTimeTooOld      Code = -18
	ErrGenTimeInFuture    Code = -19
	ErrSpduExpired        Code = -20
	ErrTooFar             Code = -21
	ErrCertExpired        Code = -22
	ErrReplay             Code = -23
	ErrLocationOutside    Code = -24
	ErrCRLOverdue         Code = -25
	ErrMissingHeaderField Code = -26

	// Cryptographic failures.
	ErrBadSignature            Code = -40
	ErrKeyReconstructionFailed Code = -41
	ErrInvalidCert             Code = -42
	ErrKeyMismatch             Code = -43
	ErrInvalidPoint            Code = -44

	// Resource exhaustion.
	ErrTableFull Code = -60
	ErrQueueFull Code = -61

	// External collaborator failures (retryable).
	ErrPending      Code = -80
	ErrQueueFlushed Code = -81
	ErrUnavailable  Code = -82
)

// Class groups codes by how a caller should react.
type Class string

const (
	ClassNone      Class = "None"
	ClassMalformed Class = "Malformed"
	ClassPolicy    Class = "Policy"
	ClassCrypto    Class = "Crypto"
	ClassResource  Class = "Resource"
	ClassPending   Class = "Pending"
)

var codeNames = map[Code]string{
	OK:                         "OK",
	ErrMalformed:               "Malformed",
	ErrCorruptContainer:        "CorruptContainer",
	ErrLengthBounds:            "LengthOutOfBounds",
	ErrInvalidArgument:         "InvalidArgument",
	ErrUnsupported:             "Unsupported",
	ErrInternal:                "Internal",
	ErrUnknownSigner:           "UnknownSigner",
	ErrSignerRevoked:           "SignerRevoked",
	ErrPsidMismatch:            "PsidMismatch",
	ErrProfileNotFound:         "ProfileNotFound",
	ErrDuplicateProfile:        "DuplicateProfile",
	ErrInvalidProfile:          "InvalidProfile",
	ErrPsidNotPermitted:        "PsidNotPermitted",
	ErrNoCredential:            "NoCredential",
	ErrGenTimeTooOld:           "GenerationTimeTooOld",
	ErrGenTimeInFuture:         "GenerationTimeInFuture",
	ErrSpduExpired:             "SpduExpired",
	ErrTooFar:                  "GenerationLocationTooFar",
	ErrCertExpired:             "CertificateExpired",
	ErrReplay:                  "Replay",
	ErrLocationOutside:         "LocationOutsideRegion",
	ErrCRLOverdue:              "CRLOverdue",
	ErrMissingHeaderField:      "MissingHeaderField",
	ErrBadSignature:            "BadSignature",
	ErrKeyReconstructionFailed: "KeyReconstructionFailed",
	ErrInvalidCert:             "InvalidCert",
	ErrKeyMismatch:             "KeyMismatch",
	ErrInvalidPoint:            "InvalidPoint",
	ErrTableFull:               "TableFull",
	ErrQueueFull:               "QueueFull",
	ErrPending:                 "Pending",
	ErrQueueFlushed:            "QueueFlushed",
	ErrUnavailable:             "Unavailable",
}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("Code(%d)", int32(c))
}

// Class reports the taxonomy bucket of c.
func (c Code) Class() Class {
	switch {
	case c == OK:
		return ClassNone
	case c <= -80:
		return ClassPending
	case c <= -60:
		return ClassResource
	case c <= -40:
		return ClassCrypto
	case c <= -10:
		return ClassPolicy
	default:
		return ClassMalformed
	}
}

// Retryable reports whether a failure may succeed when retried unchanged.
func (c Code) Retryable() bool {
	cl := c.Class()
	return cl == ClassPending || cl == ClassResource
}

// Error is the structured error returned by every package of the security layer.
//
// Callers should branch on Code (see CodeOf / IsCode) rather than on Message.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches any *Error carrying the same code, so errors.Is(err, model.Errorf(code, ""))
// style comparisons work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// NewError returns an *Error with the given code.
func NewError(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Errorf formats an *Error with the given code.
func Errorf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches code to cause. A nil cause yields a plain coded error.
func Wrap(code Code, msg string, cause error) error {
	return &Error{Code: code, Message: msg, Cause: cause}
}

// CodeOf returns the code carried by err, OK for nil and ErrInternal for
// errors that did not originate in this module.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var e *Error
	if !errors.As(err, &e) {
		return ErrInternal
	}
	return e.Code
}

// IsCode reports whether err is (or wraps) an *Error with the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}

// ParseCode is the inverse of Code.String for named codes.
func ParseCode(name string) (Code, bool) {
	for c, n := range codeNames {
		if n == name {
			return c, true
		}
	}
	return OK, false
}

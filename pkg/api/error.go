// Copyright 2023 The Sigstore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package api

import (
	"fmt"
)

// ErrorKind distinguishes the failure classes of request encoding and
// response decoding. None of them is retryable.
type ErrorKind int

const (
	// KindRequestEncoding is a malformed CSR or a PEM/base64/JSON encoding failure.
	KindRequestEncoding ErrorKind = iota + 1
	// KindResponseShape is an unknown discriminant, a missing or empty chain,
	// or a chain that is not ordered leaf first.
	KindResponseShape
	// KindCertificateParse is a chain entry that is not valid PEM or X.509.
	KindCertificateParse
	// KindUnknownSCTVersion is an SCT version this client does not understand.
	KindUnknownSCTVersion
)

func (k ErrorKind) String() string {
	switch k {
	case KindRequestEncoding:
		return "request encoding"
	case KindResponseShape:
		return "response shape"
	case KindCertificateParse:
		return "certificate parse"
	case KindUnknownSCTVersion:
		return "unknown SCT version"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

const (
	invalidCSR            = "the certificate signing request could not be encoded"
	missingDiscriminant   = "response must contain exactly one of signedCertificateEmbeddedSct or signedCertificateDetachedSct"
	unknownDiscriminant   = "unknown signing certificate type"
	missingChain          = "response is missing chain.certificates"
	emptyChain            = "response contains an empty certificate chain"
	invalidPEM            = "certificate chain entry is not a single PEM encoded certificate"
	invalidCertificate    = "certificate chain entry is not a valid X.509 certificate"
	invalidChainOrder     = "certificate chain is not ordered from leaf to root"
	invalidSCT            = "signed certificate timestamp could not be decoded"
	unsupportedSCTVersion = "unsupported signed certificate timestamp version"
)

// Error is returned by every encode and decode operation of this package.
// Use errors.Is with ErrRequestEncoding, ErrResponseShape, ErrCertificateParse
// or ErrUnknownSCTVersion to tell the kinds apart.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

var (
	ErrRequestEncoding   = &Error{Kind: KindRequestEncoding}
	ErrResponseShape     = &Error{Kind: KindResponseShape}
	ErrCertificateParse  = &Error{Kind: KindCertificateParse}
	ErrUnknownSCTVersion = &Error{Kind: KindUnknownSCTVersion}
)

func newError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

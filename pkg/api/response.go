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
	"bytes"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

const certificatePEMType = "CERTIFICATE"

// Variant names the shape of a signing certificate response. The values are
// the JSON discriminants used by Fulcio.
type Variant string

const (
	VariantDetachedSCT Variant = "signedCertificateDetachedSct"
	VariantEmbeddedSCT Variant = "signedCertificateEmbeddedSct"
)

// SigningCertificate is the decoded body of a signing certificate response.
// It is implemented only by *SigningCertificateDetachedSCT and
// *SigningCertificateEmbeddedSCT.
type SigningCertificate interface {
	Variant() Variant
	CertificateChain() CertificateChain
	isSigningCertificate()
}

// CertificateChain holds the PEM blocks of the chain in the order the CA
// returned them, leaf first.
type CertificateChain struct {
	Certificates []*pem.Block
}

// SigningCertificateDetachedSCT is returned when the SCT is not embedded in
// the leaf certificate.
type SigningCertificateDetachedSCT struct {
	Chain CertificateChain
	// SCT is nil when the CA did not send one.
	SCT *DetachedSCT
}

func (*SigningCertificateDetachedSCT) Variant() Variant { return VariantDetachedSCT }

func (s *SigningCertificateDetachedSCT) CertificateChain() CertificateChain { return s.Chain }

func (*SigningCertificateDetachedSCT) isSigningCertificate() {}

// SigningCertificateEmbeddedSCT is returned when the leaf certificate embeds
// the SCT as an X.509 extension.
type SigningCertificateEmbeddedSCT struct {
	Chain CertificateChain
}

func (*SigningCertificateEmbeddedSCT) Variant() Variant { return VariantEmbeddedSCT }

func (s *SigningCertificateEmbeddedSCT) CertificateChain() CertificateChain { return s.Chain }

func (*SigningCertificateEmbeddedSCT) isSigningCertificate() {}

type certificateChainJSON struct {
	Certificates *[]json.RawMessage `json:"certificates"`
}

type signingCertificateJSON struct {
	Chain                      json.RawMessage `json:"chain"`
	SignedCertificateTimestamp []byte          `json:"signedCertificateTimestamp"`
}

// checkFieldCase rejects keys of the JSON object raw that match one of
// fields only case-insensitively; encoding/json would accept them.
func checkFieldCase(raw []byte, fields ...string) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	for k := range m {
		for _, f := range fields {
			if k != f && strings.EqualFold(k, f) {
				return fmt.Errorf("field %q must be spelled %q", k, f)
			}
		}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// DecodeSigningCertificate decodes a signing certificate response body. The
// body must contain exactly one known variant with a non-empty chain, and
// every chain entry must be a single PEM encoded certificate.
func DecodeSigningCertificate(body []byte) (SigningCertificate, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, newError(KindResponseShape, err, "response is not a JSON object")
	}
	if len(top) != 1 {
		keys := make([]string, 0, len(top))
		for k := range top {
			keys = append(keys, k)
		}
		return nil, newError(KindResponseShape, fmt.Errorf("found keys %q", keys), missingDiscriminant)
	}

	for key, raw := range top {
		switch Variant(key) {
		case VariantDetachedSCT:
			payload, chain, err := decodePayload(raw)
			if err != nil {
				return nil, err
			}
			sc := &SigningCertificateDetachedSCT{Chain: chain}
			if len(payload.SignedCertificateTimestamp) > 0 {
				if sc.SCT, err = ParseDetachedSCT(payload.SignedCertificateTimestamp); err != nil {
					return nil, err
				}
			}
			return sc, nil
		case VariantEmbeddedSCT:
			_, chain, err := decodePayload(raw)
			if err != nil {
				return nil, err
			}
			return &SigningCertificateEmbeddedSCT{Chain: chain}, nil
		default:
			return nil, newError(KindResponseShape, nil, "%s: %q", unknownDiscriminant, key)
		}
	}
	// unreachable, len(top) == 1
	return nil, newError(KindResponseShape, nil, missingDiscriminant)
}

func decodePayload(raw json.RawMessage) (*signingCertificateJSON, CertificateChain, error) {
	if err := checkFieldCase(raw, "chain", "signedCertificateTimestamp"); err != nil {
		return nil, CertificateChain{}, newError(KindResponseShape, err, "signing certificate could not be decoded")
	}
	var payload *signingCertificateJSON
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, CertificateChain{}, newError(KindResponseShape, err, "signing certificate could not be decoded")
	}
	if payload == nil || isNull(payload.Chain) {
		return nil, CertificateChain{}, newError(KindResponseShape, nil, missingChain)
	}
	if err := checkFieldCase(payload.Chain, "certificates"); err != nil {
		return nil, CertificateChain{}, newError(KindResponseShape, err, "certificate chain could not be decoded")
	}
	var chain certificateChainJSON
	if err := json.Unmarshal(payload.Chain, &chain); err != nil {
		return nil, CertificateChain{}, newError(KindResponseShape, err, "certificate chain could not be decoded")
	}
	if chain.Certificates == nil {
		return nil, CertificateChain{}, newError(KindResponseShape, nil, missingChain)
	}
	entries := *chain.Certificates
	if len(entries) == 0 {
		return nil, CertificateChain{}, newError(KindResponseShape, nil, emptyChain)
	}

	blocks := make([]*pem.Block, 0, len(entries))
	for i, entry := range entries {
		var s string
		if err := json.Unmarshal(entry, &s); err != nil {
			return nil, CertificateChain{}, newError(KindResponseShape, err, "certificate %d is not a string", i)
		}
		block, err := decodeCertificatePEM([]byte(s))
		if err != nil {
			return nil, CertificateChain{}, newError(KindCertificateParse, err, "%s (certificate %d)", invalidPEM, i)
		}
		blocks = append(blocks, block)
	}
	return payload, CertificateChain{Certificates: blocks}, nil
}

func decodeCertificatePEM(b []byte) (*pem.Block, error) {
	block, rest := pem.Decode(b)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if block.Type != certificatePEMType {
		return nil, fmt.Errorf("unexpected PEM block type %q", block.Type)
	}
	if len(bytes.TrimSpace(rest)) != 0 {
		return nil, errors.New("trailing data after PEM block")
	}
	return block, nil
}

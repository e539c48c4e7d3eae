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
	"crypto/x509"
	"errors"

	"github.com/sigstore/fulcio-client/pkg/certificate"
	"github.com/sigstore/sigstore/pkg/cryptoutils"
)

// CertificateResponse is a parsed signing certificate and the chain that
// issued it, ordered from the leaf's issuer towards the root.
type CertificateResponse struct {
	Cert  *x509.Certificate
	Chain []*x509.Certificate

	// Variant records whether the SCT is embedded in Cert or was detached.
	Variant Variant
	// SCT is set only for the detached variant, and only if the CA sent one.
	SCT *DetachedSCT
}

// DecodeCertificateResponse decodes and materializes a response body in one
// step.
func DecodeCertificateResponse(body []byte) (*CertificateResponse, error) {
	sc, err := DecodeSigningCertificate(body)
	if err != nil {
		return nil, err
	}
	return NewCertificateResponse(sc)
}

// NewCertificateResponse parses every certificate of the chain. The first
// certificate is the leaf and must not be a CA. Each certificate must carry
// a valid signature from the one that follows it; a chain in any other
// order, or with an unrelated issuer, is an ErrResponseShape. Only this
// linkage is checked: validity periods and trust in the last certificate
// are left to the caller.
func NewCertificateResponse(sc SigningCertificate) (*CertificateResponse, error) {
	if sc == nil {
		return nil, newError(KindResponseShape, nil, missingChain)
	}
	blocks := sc.CertificateChain().Certificates
	if len(blocks) == 0 {
		return nil, newError(KindResponseShape, nil, emptyChain)
	}

	certs := make([]*x509.Certificate, 0, len(blocks))
	for i, block := range blocks {
		if block == nil || block.Type != certificatePEMType {
			return nil, newError(KindCertificateParse, nil, "%s (certificate %d)", invalidPEM, i)
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, newError(KindCertificateParse, err, "%s (certificate %d)", invalidCertificate, i)
		}
		certs = append(certs, cert)
	}

	if certs[0].IsCA {
		return nil, newError(KindResponseShape, errors.New("first certificate is a CA certificate"), invalidChainOrder)
	}
	for i := 0; i < len(certs)-1; i++ {
		if err := certs[i].CheckSignatureFrom(certs[i+1]); err != nil {
			return nil, newError(KindResponseShape, err, "%s: certificate %d is not issued by certificate %d", invalidChainOrder, i, i+1)
		}
	}

	resp := &CertificateResponse{
		Cert:    certs[0],
		Chain:   certs[1:],
		Variant: sc.Variant(),
	}
	if d, ok := sc.(*SigningCertificateDetachedSCT); ok {
		resp.SCT = d.SCT
	}
	return resp, nil
}

// ChainPEM returns the leaf followed by the chain as concatenated PEM blocks.
func (r *CertificateResponse) ChainPEM() ([]byte, error) {
	all := make([]*x509.Certificate, 0, len(r.Chain)+1)
	all = append(all, r.Cert)
	all = append(all, r.Chain...)
	return cryptoutils.MarshalCertificatesToPEM(all)
}

// Issuer returns the OIDC issuer Fulcio recorded in the leaf certificate.
func (r *CertificateResponse) Issuer() (string, error) {
	exts, err := certificate.ParseExtensions(r.Cert.Extensions)
	if err != nil {
		return "", err
	}
	if exts.Issuer == "" {
		return "", errors.New("leaf certificate has no OIDC issuer extension")
	}
	return exts.Issuer, nil
}

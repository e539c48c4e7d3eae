// Copyright 2022 The Sigstore Authors.
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

package ctl

import (
	"crypto"
	"encoding/base64"
	"encoding/json"
	"fmt"

	ct "github.com/google/certificate-transparency-go"
	"github.com/google/certificate-transparency-go/ctutil"
	"github.com/google/certificate-transparency-go/tls"
	ctx509 "github.com/google/certificate-transparency-go/x509"
	"github.com/google/certificate-transparency-go/x509util"
	"github.com/pkg/errors"

	"github.com/sigstore/fulcio-client/pkg/api"
)

// BuildCTChain re-parses the leaf and its chain with the CT flavoured x509
// package, which is what the CT verification code expects.
func BuildCTChain(resp *api.CertificateResponse) ([]*ctx509.Certificate, error) {
	if resp == nil || resp.Cert == nil {
		return nil, errors.New("certificate response has no leaf certificate")
	}
	raws := [][]byte{resp.Cert.Raw}
	for _, c := range resp.Chain {
		raws = append(raws, c.Raw)
	}

	ctChain := make([]*ctx509.Certificate, 0, len(raws))
	for i, raw := range raws {
		parsed, err := ctx509.ParseCertificate(raw)
		if err != nil && ctx509.IsFatal(err) {
			return nil, errors.Wrapf(err, "parsing certificate %d", i)
		}
		ctChain = append(ctChain, parsed)
	}
	return ctChain, nil
}

// ToSignedCertificateTimestamp converts a detached SCT into the CT library
// representation.
func ToSignedCertificateTimestamp(sct *api.DetachedSCT) (*ct.SignedCertificateTimestamp, error) {
	if sct == nil {
		return nil, errors.New("no signed certificate timestamp")
	}
	if sct.Version != api.SCTVersionV1 {
		return nil, fmt.Errorf("unsupported SCT version %v", sct.Version)
	}
	resp := ct.AddChainResponse{
		SCTVersion: ct.V1,
		ID:         sct.LogID,
		Timestamp:  sct.Timestamp,
		Extensions: sct.Extensions,
		Signature:  sct.Signature,
	}
	converted, err := resp.ToSignedCertificateTimestamp()
	if err != nil {
		return nil, errors.Wrap(err, "converting detached SCT")
	}
	return converted, nil
}

// ToDetachedSCT converts an SCT struct to the detached form Fulcio returns
// next to a certificate chain.
func ToDetachedSCT(sct *ct.SignedCertificateTimestamp) (*api.DetachedSCT, error) {
	if sct == nil {
		return nil, errors.New("no signed certificate timestamp")
	}
	sig, err := tls.Marshal(sct.Signature)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signature: %s", err)
	}
	addChainResp := &ct.AddChainResponse{
		SCTVersion: sct.SCTVersion,
		Timestamp:  sct.Timestamp,
		Extensions: base64.StdEncoding.EncodeToString(sct.Extensions),
		ID:         sct.LogID.KeyID[:],
		Signature:  sig,
	}
	b, err := json.Marshal(addChainResp)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling add-chain response")
	}
	return api.ParseDetachedSCT(b)
}

// EmbeddedSCTs returns the SCTs embedded in the leaf certificate.
func EmbeddedSCTs(resp *api.CertificateResponse) ([]*ct.SignedCertificateTimestamp, error) {
	chain, err := BuildCTChain(resp)
	if err != nil {
		return nil, err
	}
	scts, err := x509util.ParseSCTsFromSCTList(&chain[0].SCTList)
	if err != nil {
		return nil, errors.Wrap(err, "parsing embedded SCT list")
	}
	return scts, nil
}

// VerifySCT checks the SCT of resp against the public key of the CT log that
// issued it. For detached responses the SCT sent by the CA is checked; for
// embedded responses at least one of the SCTs in the leaf must verify.
func VerifySCT(resp *api.CertificateResponse, logKey crypto.PublicKey) error {
	if logKey == nil {
		return errors.New("no CT log public key")
	}
	chain, err := BuildCTChain(resp)
	if err != nil {
		return err
	}

	switch resp.Variant {
	case api.VariantDetachedSCT:
		sct, err := ToSignedCertificateTimestamp(resp.SCT)
		if err != nil {
			return err
		}
		if err := ctutil.VerifySCT(logKey, chain[:1], sct, false); err != nil {
			return errors.Wrap(err, "verifying detached SCT")
		}
		return nil
	case api.VariantEmbeddedSCT:
		if len(chain) < 2 {
			return errors.New("embedded SCT verification requires the issuing certificate")
		}
		scts, err := EmbeddedSCTs(resp)
		if err != nil {
			return err
		}
		if len(scts) == 0 {
			return errors.New("leaf certificate has no embedded SCTs")
		}
		var lastErr error
		for _, sct := range scts {
			if lastErr = ctutil.VerifySCT(logKey, chain[:2], sct, true); lastErr == nil {
				return nil
			}
		}
		return errors.Wrap(lastErr, "verifying embedded SCT")
	default:
		return fmt.Errorf("unknown signing certificate variant %q", resp.Variant)
	}
}

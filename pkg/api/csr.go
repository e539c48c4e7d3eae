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
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/url"

	"github.com/asaskevich/govalidator"
)

const certificateRequestPEMType = "CERTIFICATE REQUEST"

// SigningRequest is the body of a signing certificate request.
type SigningRequest struct {
	CertificateSigningRequest *x509.CertificateRequest
}

type signingRequestJSON struct {
	CertificateSigningRequest string `json:"certificateSigningRequest"`
}

// CreateCertificateRequest creates a PKCS#10 request for subject, signed by
// the ephemeral signer. The signature over the request is the proof of
// possession the CA checks.
func CreateCertificateRequest(signer crypto.Signer, subject string) (*x509.CertificateRequest, error) {
	if signer == nil {
		return nil, newError(KindRequestEncoding, errors.New("signer is nil"), invalidCSR)
	}
	if subject == "" {
		return nil, newError(KindRequestEncoding, errors.New("subject is empty"), invalidCSR)
	}

	template := &x509.CertificateRequest{
		Subject: pkix.Name{CommonName: subject},
	}
	if govalidator.IsEmail(subject) {
		template.EmailAddresses = []string{subject}
	} else if u, err := url.Parse(subject); err == nil && u.IsAbs() {
		template.URIs = []*url.URL{u}
	}

	der, err := x509.CreateCertificateRequest(rand.Reader, template, signer)
	if err != nil {
		return nil, newError(KindRequestEncoding, err, invalidCSR)
	}
	csr, err := x509.ParseCertificateRequest(der)
	if err != nil {
		return nil, newError(KindRequestEncoding, err, invalidCSR)
	}
	return csr, nil
}

// NewSigningRequest wraps csr after checking it carries a DER encoding and a
// valid self-signature.
func NewSigningRequest(csr *x509.CertificateRequest) (*SigningRequest, error) {
	if csr == nil || len(csr.Raw) == 0 {
		return nil, newError(KindRequestEncoding, errors.New("empty certificate request"), invalidCSR)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, newError(KindRequestEncoding, err, invalidCSR)
	}
	return &SigningRequest{CertificateSigningRequest: csr}, nil
}

// PEM returns the request as a PEM block with CRLF line endings, the form
// Fulcio expects inside the request body.
func (r SigningRequest) PEM() ([]byte, error) {
	if r.CertificateSigningRequest == nil || len(r.CertificateSigningRequest.Raw) == 0 {
		return nil, newError(KindRequestEncoding, errors.New("empty certificate request"), invalidCSR)
	}
	encoded := pem.EncodeToMemory(&pem.Block{
		Type:  certificateRequestPEMType,
		Bytes: r.CertificateSigningRequest.Raw,
	})
	if encoded == nil {
		return nil, newError(KindRequestEncoding, errors.New("pem encoding failed"), invalidCSR)
	}
	return bytes.ReplaceAll(encoded, []byte("\n"), []byte("\r\n")), nil
}

// Encode returns the JSON request body.
func (r SigningRequest) Encode() ([]byte, error) {
	encoded, err := r.PEM()
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(signingRequestJSON{
		CertificateSigningRequest: base64.StdEncoding.EncodeToString(encoded),
	})
	if err != nil {
		return nil, newError(KindRequestEncoding, err, invalidCSR)
	}
	return body, nil
}

func (r SigningRequest) MarshalJSON() ([]byte, error) {
	return r.Encode()
}

func (r *SigningRequest) UnmarshalJSON(b []byte) error {
	var body signingRequestJSON
	if err := json.Unmarshal(b, &body); err != nil {
		return newError(KindRequestEncoding, err, invalidCSR)
	}
	encoded, err := base64.StdEncoding.DecodeString(body.CertificateSigningRequest)
	if err != nil {
		return newError(KindRequestEncoding, err, invalidCSR)
	}
	block, rest := pem.Decode(encoded)
	if block == nil || block.Type != certificateRequestPEMType || len(bytes.TrimSpace(rest)) != 0 {
		return newError(KindRequestEncoding, errors.New("body does not hold a single PEM certificate request"), invalidCSR)
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return newError(KindRequestEncoding, err, invalidCSR)
	}
	r.CertificateSigningRequest = csr
	return nil
}

// Copyright 2022 The Sigstore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package test

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"

	ct "github.com/google/certificate-transparency-go"
	cttls "github.com/google/certificate-transparency-go/tls"
	ctx509 "github.com/google/certificate-transparency-go/x509"

	"github.com/sigstore/fulcio-client/pkg/certificate"
)

/*
To build a response chain:

rootCert, rootKey, _ := GenerateRootCA()
subCert, subKey, _ := GenerateSubordinateCA(rootCert, rootKey)
leafCert, _, _ := GenerateLeafCert("alice@example.com", "https://accounts.example.com", subCert, subKey)

body := SigningCertificateBody(DetachedSCTKey, []*x509.Certificate{leafCert, subCert, rootCert}, nil)
*/

const (
	DetachedSCTKey = "signedCertificateDetachedSct"
	EmbeddedSCTKey = "signedCertificateEmbeddedSct"
)

// OIDExtensionCTSCT is defined in RFC 6962 s3.3.
var OIDExtensionCTSCT = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 11129, 2, 4, 2}

func createCertificate(template *x509.Certificate, parent *x509.Certificate, pub interface{}, priv crypto.Signer) (*x509.Certificate, error) {
	signatureAlgorithm, err := toSignatureAlgorithm(priv, crypto.SHA256)
	if err != nil {
		return nil, err
	}

	template.SignatureAlgorithm = signatureAlgorithm
	certBytes, err := x509.CreateCertificate(rand.Reader, template, parent, pub, priv)
	if err != nil {
		return nil, err
	}

	return x509.ParseCertificate(certBytes)
}

func caTemplate(cn string, lifetime time.Duration) *x509.Certificate {
	return &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   cn,
			Organization: []string{"sigstore.dev"},
		},
		NotBefore:             time.Now().Add(-5 * time.Minute),
		NotAfter:              time.Now().Add(lifetime),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
}

func GenerateRootCA() (*x509.Certificate, *ecdsa.PrivateKey, error) {
	rootTemplate := caTemplate("sigstore", 5*time.Hour)

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	cert, err := createCertificate(rootTemplate, rootTemplate, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, err
	}
	return cert, priv, nil
}

func GenerateSubordinateCA(parent *x509.Certificate, parentPriv crypto.Signer) (*x509.Certificate, *ecdsa.PrivateKey, error) {
	subTemplate := caTemplate("sigstore-intermediate", 2*time.Hour)
	subTemplate.SerialNumber = big.NewInt(2)
	subTemplate.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	cert, err := createCertificate(subTemplate, parent, &priv.PublicKey, parentPriv)
	if err != nil {
		return nil, nil, err
	}
	return cert, priv, nil
}

// LeafTemplate describes a short lived code signing certificate for subject
// carrying the issuer extension.
func LeafTemplate(subject, oidcIssuer string) (*x509.Certificate, error) {
	exts, err := certificate.Extensions{Issuer: oidcIssuer}.Render()
	if err != nil {
		return nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return nil, err
	}
	return &x509.Certificate{
		SerialNumber:    serial,
		EmailAddresses:  []string{subject},
		NotBefore:       time.Now().Add(-1 * time.Minute),
		NotAfter:        time.Now().Add(10 * time.Minute),
		KeyUsage:        x509.KeyUsageDigitalSignature,
		ExtKeyUsage:     []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning},
		IsCA:            false,
		ExtraExtensions: exts,
	}, nil
}

func GenerateLeafCert(subject string, oidcIssuer string, parent *x509.Certificate, parentPriv crypto.Signer) (*x509.Certificate, *ecdsa.PrivateKey, error) {
	template, err := LeafTemplate(subject, oidcIssuer)
	if err != nil {
		return nil, nil, err
	}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	cert, err := createCertificate(template, parent, &priv.PublicKey, parentPriv)
	if err != nil {
		return nil, nil, err
	}
	return cert, priv, nil
}

// IssueLeafCert certifies pub, e.g. the key of a certificate request, the way
// a CA would.
func IssueLeafCert(subject, oidcIssuer string, pub crypto.PublicKey, parent *x509.Certificate, parentPriv crypto.Signer) (*x509.Certificate, error) {
	template, err := LeafTemplate(subject, oidcIssuer)
	if err != nil {
		return nil, err
	}
	return createCertificate(template, parent, pub, parentPriv)
}

// GenerateLeafCertWithEmbeddedSCT issues a leaf whose SCT list extension
// holds an SCT signed by logKey over the precertificate entry.
func GenerateLeafCertWithEmbeddedSCT(subject, oidcIssuer string, parent *x509.Certificate, parentPriv crypto.Signer, logKey *ecdsa.PrivateKey) (*x509.Certificate, error) {
	template, err := LeafTemplate(subject, oidcIssuer)
	if err != nil {
		return nil, err
	}
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	baseExts := template.ExtraExtensions

	// The precertificate entry excludes the SCT list, so a placeholder list
	// yields the same entry as the final certificate.
	placeholder, err := SCTListExtension([]ct.SignedCertificateTimestamp{{SCTVersion: ct.V1}})
	if err != nil {
		return nil, err
	}
	template.ExtraExtensions = append(append([]pkix.Extension{}, baseExts...), placeholder)
	provisional, err := createCertificate(template, parent, &priv.PublicKey, parentPriv)
	if err != nil {
		return nil, err
	}
	chain, err := ToCTChain(provisional, parent)
	if err != nil {
		return nil, err
	}
	sct, err := SignSCT(logKey, chain, true)
	if err != nil {
		return nil, err
	}

	sctExt, err := SCTListExtension([]ct.SignedCertificateTimestamp{*sct})
	if err != nil {
		return nil, err
	}
	template.ExtraExtensions = append(append([]pkix.Extension{}, baseExts...), sctExt)
	return createCertificate(template, parent, &priv.PublicKey, parentPriv)
}

// SCTListExtension encodes scts as an RFC 6962 SCT list extension.
func SCTListExtension(scts []ct.SignedCertificateTimestamp) (pkix.Extension, error) {
	list := ctx509.SignedCertificateTimestampList{}
	for _, sct := range scts {
		sctBytes, err := cttls.Marshal(sct)
		if err != nil {
			return pkix.Extension{}, err
		}
		list.SCTList = append(list.SCTList, ctx509.SerializedSCT{Val: sctBytes})
	}
	listBytes, err := cttls.Marshal(list)
	if err != nil {
		return pkix.Extension{}, err
	}
	extBytes, err := asn1.Marshal(listBytes)
	if err != nil {
		return pkix.Extension{}, err
	}
	return pkix.Extension{
		Id:    OIDExtensionCTSCT,
		Value: extBytes,
	}, nil
}

func ToCTChain(certs ...*x509.Certificate) ([]*ctx509.Certificate, error) {
	out := make([]*ctx509.Certificate, 0, len(certs))
	for _, c := range certs {
		parsed, err := ctx509.ParseCertificate(c.Raw)
		if err != nil && ctx509.IsFatal(err) {
			return nil, err
		}
		out = append(out, parsed)
	}
	return out, nil
}

// SignSCT produces the SCT a log holding logKey would return for chain. An
// embedded SCT covers the leaf minus its SCT list, which must be present.
func SignSCT(logKey *ecdsa.PrivateKey, chain []*ctx509.Certificate, embedded bool) (*ct.SignedCertificateTimestamp, error) {
	der, err := x509.MarshalPKIXPublicKey(&logKey.PublicKey)
	if err != nil {
		return nil, err
	}
	timestamp := uint64(time.Now().UnixNano() / int64(time.Millisecond))
	var leaf *ct.MerkleTreeLeaf
	if embedded {
		leaf, err = ct.MerkleTreeLeafForEmbeddedSCT(chain, timestamp)
	} else {
		leaf, err = ct.MerkleTreeLeafFromChain(chain, ct.X509LogEntryType, timestamp)
	}
	if err != nil {
		return nil, err
	}

	sct := &ct.SignedCertificateTimestamp{
		SCTVersion: ct.V1,
		LogID:      ct.LogID{KeyID: sha256.Sum256(der)},
		Timestamp:  timestamp,
	}
	data, err := ct.SerializeSCTSignatureInput(*sct, ct.LogEntry{Leaf: *leaf})
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(data)
	sig, err := ecdsa.SignASN1(rand.Reader, logKey, digest[:])
	if err != nil {
		return nil, err
	}
	sct.Signature = ct.DigitallySigned{
		Algorithm: cttls.SignatureAndHashAlgorithm{
			Hash:      cttls.SHA256,
			Signature: cttls.ECDSA,
		},
		Signature: sig,
	}
	return sct, nil
}

func CertificatePEM(cert *x509.Certificate) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}))
}

// SigningCertificateBody renders a signing certificate response the way the
// CA serializes it. sct is only used with DetachedSCTKey and may be nil.
func SigningCertificateBody(key string, certs []*x509.Certificate, sct []byte) []byte {
	pems := make([]string, 0, len(certs))
	for _, c := range certs {
		pems = append(pems, CertificatePEM(c))
	}
	payload := map[string]interface{}{
		"chain": map[string]interface{}{"certificates": pems},
	}
	if sct != nil {
		payload["signedCertificateTimestamp"] = base64.StdEncoding.EncodeToString(sct)
	}
	b, err := json.Marshal(map[string]interface{}{key: payload})
	if err != nil {
		panic(err)
	}
	return b
}

func toSignatureAlgorithm(signer crypto.Signer, hash crypto.Hash) (x509.SignatureAlgorithm, error) {
	if signer == nil {
		return x509.UnknownSignatureAlgorithm, errors.New("signer is nil")
	}

	pub := signer.Public()
	switch pub := pub.(type) {
	case *rsa.PublicKey:
		switch hash {
		case crypto.SHA256:
			return x509.SHA256WithRSA, nil
		case crypto.SHA384:
			return x509.SHA384WithRSA, nil
		case crypto.SHA512:
			return x509.SHA512WithRSA, nil
		case crypto.SHA1:
			return x509.SHA1WithRSA, nil
		case crypto.MD5:
			return x509.MD5WithRSA, nil
		default:
			return x509.UnknownSignatureAlgorithm, fmt.Errorf("unsupported hash algorithm for RSA: %v", hash)
		}
	case *ecdsa.PublicKey:
		switch hash {
		case crypto.SHA256:
			return x509.ECDSAWithSHA256, nil
		case crypto.SHA384:
			return x509.ECDSAWithSHA384, nil
		case crypto.SHA512:
			return x509.ECDSAWithSHA512, nil
		case crypto.SHA1:
			return x509.ECDSAWithSHA1, nil
		default:
			return x509.UnknownSignatureAlgorithm, fmt.Errorf("unsupported hash algorithm for ECDSA: %v", hash)
		}
	case ed25519.PublicKey:
		// Ed25519 has a fixed signature so we don't need to check the hash
		return x509.PureEd25519, nil
	default:
		return x509.UnknownSignatureAlgorithm, fmt.Errorf("unsupported public key type: %T", pub)
	}
}

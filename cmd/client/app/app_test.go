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

package app

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sigstore/sigstore/pkg/cryptoutils"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"

	"github.com/sigstore/fulcio-client/pkg/api"
	"github.com/sigstore/fulcio-client/pkg/ctl"
	"github.com/sigstore/fulcio-client/pkg/test"
)

const testIssuer = "https://accounts.example.com"

type testCA struct {
	root, intermediate *x509.Certificate
	intermediateKey    *ecdsa.PrivateKey
}

func newTestCA(t *testing.T) *testCA {
	t.Helper()
	root, rootKey, err := test.GenerateRootCA()
	if err != nil {
		t.Fatal(err)
	}
	intermediate, intermediateKey, err := test.GenerateSubordinateCA(root, rootKey)
	if err != nil {
		t.Fatal(err)
	}
	return &testCA{root: root, intermediate: intermediate, intermediateKey: intermediateKey}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name string, b []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestInspect(t *testing.T) {
	ca := newTestCA(t)
	leaf, _, err := test.GenerateLeafCert("alice@example.com", testIssuer, ca.intermediate, ca.intermediateKey)
	if err != nil {
		t.Fatal(err)
	}
	logKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	ctChain, err := test.ToCTChain(leaf)
	if err != nil {
		t.Fatal(err)
	}
	sct, err := test.SignSCT(logKey, ctChain, false)
	if err != nil {
		t.Fatal(err)
	}
	detached, err := ctl.ToDetachedSCT(sct)
	if err != nil {
		t.Fatal(err)
	}
	sctJSON, err := json.Marshal(detached)
	if err != nil {
		t.Fatal(err)
	}
	logKeyPEM, err := cryptoutils.MarshalPublicKeyToPEM(&logKey.PublicKey)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	body := writeFile(t, dir, "response.json", test.SigningCertificateBody(test.DetachedSCTKey, []*x509.Certificate{leaf, ca.intermediate, ca.root}, sctJSON))
	keyPath := writeFile(t, dir, "ctlog.pem", logKeyPEM)

	out, err := runCLI(t, "inspect", "--file", body, "--ct-log-public-key", keyPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"Variant:     " + string(api.VariantDetachedSCT),
		"Subject:     alice@example.com",
		"OIDC issuer: " + testIssuer,
		"Chain:       2 certificate(s)",
		"SCT:         detached",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output does not contain %q:\n%s", want, out)
		}
	}

	reversed := writeFile(t, dir, "reversed.json", test.SigningCertificateBody(test.DetachedSCTKey, []*x509.Certificate{ca.root, ca.intermediate, leaf}, nil))
	if _, err := runCLI(t, "inspect", "--file", reversed, "--ct-log-public-key", ""); err == nil {
		t.Error("expected an error for a root-first chain")
	}
}

func TestRequest(t *testing.T) {
	ca := newTestCA(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req api.SigningRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		csr := req.CertificateSigningRequest
		if len(csr.EmailAddresses) != 1 {
			http.Error(w, "expected one email address", http.StatusBadRequest)
			return
		}
		leaf, err := test.IssueLeafCert(csr.EmailAddresses[0], testIssuer, csr.PublicKey, ca.intermediate, ca.intermediateKey)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(test.SigningCertificateBody(test.EmbeddedSCTKey, []*x509.Certificate{leaf, ca.intermediate, ca.root}, nil))
	}))
	defer server.Close()

	tokenKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: tokenKey}, nil)
	if err != nil {
		t.Fatal(err)
	}
	token, err := jwt.Signed(signer).Claims(map[string]interface{}{
		"iss":   testIssuer,
		"sub":   "1234",
		"email": "alice@example.com",
	}).CompactSerialize()
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	chainPath := filepath.Join(dir, "chain.pem")
	keyPath := filepath.Join(dir, "key.pem")
	if _, err := runCLI(t, "request",
		"--fulcio-url", server.URL,
		"--token", token,
		"--retry-max", "0",
		"--output", chainPath,
		"--key-output", keyPath); err != nil {
		t.Fatal(err)
	}

	chainPEM, err := os.ReadFile(chainPath)
	if err != nil {
		t.Fatal(err)
	}
	certs, err := cryptoutils.UnmarshalCertificatesFromPEM(chainPEM)
	if err != nil {
		t.Fatal(err)
	}
	if len(certs) != 3 {
		t.Fatalf("got %d certificates, want 3", len(certs))
	}
	if len(certs[0].EmailAddresses) != 1 || certs[0].EmailAddresses[0] != "alice@example.com" {
		t.Errorf("leaf email addresses = %v", certs[0].EmailAddresses)
	}

	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		t.Fatal(err)
	}
	priv, err := cryptoutils.UnmarshalPEMToPrivateKey(keyPEM, cryptoutils.SkipPassword)
	if err != nil {
		t.Fatal(err)
	}
	ecPriv, ok := priv.(*ecdsa.PrivateKey)
	if !ok {
		t.Fatalf("got %T, want *ecdsa.PrivateKey", priv)
	}
	if !ecPriv.PublicKey.Equal(certs[0].PublicKey) {
		t.Error("certificate does not certify the ephemeral key")
	}
}

func TestWriteMetrics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fulcio-client.prom")
	if err := writeMetrics(path); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// the default registry always carries the Go runtime collector
	if !strings.Contains(string(b), "go_goroutines") {
		t.Errorf("metrics file missing runtime metrics:\n%s", b)
	}
}

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

package oauthflow

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

func mintToken(t *testing.T, claims interface{}) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: key}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		t.Fatal(err)
	}
	raw, err := jwt.Signed(signer).Claims(claims).CompactSerialize()
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

type emailClaims struct {
	jwt.Claims
	Email string `json:"email,omitempty"`
}

func TestParseIDToken(t *testing.T) {
	now := jwt.NewNumericDate(time.Now())
	withEmail := mintToken(t, emailClaims{
		Claims: jwt.Claims{Issuer: "https://accounts.example.com", Subject: "1234", IssuedAt: now},
		Email:  "alice@example.com",
	})
	subOnly := mintToken(t, emailClaims{
		Claims: jwt.Claims{Issuer: GitHubActionsIssuer, Subject: "repo:octo/repo:ref:refs/heads/main"},
	})
	noIdentity := mintToken(t, emailClaims{
		Claims: jwt.Claims{Issuer: "https://accounts.example.com"},
	})

	tests := []struct {
		name    string
		raw     string
		want    *OIDCIDToken
		wantErr bool
	}{{
		name: "email preferred over sub",
		raw:  withEmail,
		want: &OIDCIDToken{RawString: withEmail, Subject: "alice@example.com", Issuer: "https://accounts.example.com"},
	}, {
		name: "sub when no email",
		raw:  subOnly + "\n",
		want: &OIDCIDToken{RawString: subOnly, Subject: "repo:octo/repo:ref:refs/heads/main", Issuer: GitHubActionsIssuer},
	}, {
		name:    "no identity",
		raw:     noIdentity,
		wantErr: true,
	}, {
		name:    "empty",
		raw:     "  ",
		wantErr: true,
	}, {
		name:    "not a JWT",
		raw:     "not.a.jwt",
		wantErr: true,
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIDToken(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseIDToken() error = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseIDToken() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFileTokenGetter(t *testing.T) {
	raw := mintToken(t, emailClaims{Email: "alice@example.com"})
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte(raw+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	tok, err := (&FileTokenGetter{Path: path}).GetIDToken(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tok.Subject != "alice@example.com" || tok.RawString != raw {
		t.Errorf("unexpected token %+v", tok)
	}

	if _, err := (&FileTokenGetter{Path: filepath.Join(t.TempDir(), "missing")}).GetIDToken(context.Background()); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestStaticTokenGetter(t *testing.T) {
	raw := mintToken(t, emailClaims{Claims: jwt.Claims{Subject: "svc"}})
	tok, err := (&StaticTokenGetter{RawToken: raw}).GetIDToken(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tok.Subject != "svc" {
		t.Errorf("Subject = %s, want svc", tok.Subject)
	}
}

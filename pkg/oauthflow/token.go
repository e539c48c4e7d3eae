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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/square/go-jose.v2/jwt"
)

// OIDCIDToken is an identity token and the identity Fulcio will bind into the
// certificate.
type OIDCIDToken struct {
	RawString string
	// Subject is the email claim when present, otherwise the sub claim.
	Subject string
	Issuer  string
}

// TokenGetter acquires an OIDC identity token.
type TokenGetter interface {
	GetIDToken(ctx context.Context) (*OIDCIDToken, error)
}

// ParseIDToken reads the claims of a raw JWT without verifying its signature.
// The CA verifies the token; the client only needs the identity to put in
// the certificate request.
func ParseIDToken(raw string) (*OIDCIDToken, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty identity token")
	}
	tok, err := jwt.ParseSigned(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing identity token: %w", err)
	}

	var claims struct {
		jwt.Claims
		Email string `json:"email"`
	}
	if err := tok.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return nil, fmt.Errorf("reading identity token claims: %w", err)
	}

	subject := claims.Email
	if subject == "" {
		subject = claims.Subject
	}
	if subject == "" {
		return nil, errors.New("identity token has neither an email nor a sub claim")
	}
	return &OIDCIDToken{
		RawString: raw,
		Subject:   subject,
		Issuer:    claims.Issuer,
	}, nil
}

// StaticTokenGetter returns a token supplied up front, e.g. on the command line.
type StaticTokenGetter struct {
	RawToken string
}

func (s *StaticTokenGetter) GetIDToken(_ context.Context) (*OIDCIDToken, error) {
	return ParseIDToken(s.RawToken)
}

// FileTokenGetter reads the token from a file on every call, so a token
// rotated on disk (as projected service account tokens are) is picked up.
type FileTokenGetter struct {
	Path string
}

func (f *FileTokenGetter) GetIDToken(_ context.Context) (*OIDCIDToken, error) {
	b, err := os.ReadFile(filepath.Clean(f.Path))
	if err != nil {
		return nil, fmt.Errorf("reading identity token from %s: %w", f.Path, err)
	}
	return ParseIDToken(string(b))
}

/*
Copyright © 2021 Dan Lorenc <lorenc.d@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package oauthflow

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/mattn/go-isatty"
	"github.com/skratchdot/open-golang/open"
	"golang.org/x/oauth2"
)

const (
	DefaultRedirectURL = "http://localhost:0/auth/callback"

	authTimeout = 120 * time.Second
)

// InteractiveIDTokenGetter runs the OAuth 2.0 authorization code flow with
// PKCE in the user's browser and returns the verified ID token.
type InteractiveIDTokenGetter struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	// RedirectURL must point at the loopback interface. Port 0 picks a free
	// port.
	RedirectURL string

	// Output receives the authorization URL. Defaults to os.Stderr.
	Output io.Writer
	// Open opens the authorization URL. Defaults to the system browser.
	Open func(url string) error
}

func (i *InteractiveIDTokenGetter) GetIDToken(ctx context.Context) (*OIDCIDToken, error) {
	provider, err := oidc.NewProvider(ctx, i.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discovering OIDC provider %s: %w", i.Issuer, err)
	}

	redirect := i.RedirectURL
	if redirect == "" {
		redirect = DefaultRedirectURL
	}
	redirectURL, err := url.Parse(redirect)
	if err != nil {
		return nil, fmt.Errorf("parsing redirect URL: %w", err)
	}
	listener, err := net.Listen("tcp", redirectURL.Host)
	if err != nil {
		return nil, fmt.Errorf("listening for redirect: %w", err)
	}
	defer listener.Close()
	redirectURL.Host = listener.Addr().String()

	cfg := oauth2.Config{
		ClientID:     i.ClientID,
		ClientSecret: i.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  redirectURL.String(),
		Scopes:       []string{oidc.ScopeOpenID, "email"},
	}

	pkce, err := NewPKCE(PKCES256)
	if err != nil {
		return nil, err
	}
	state, err := randStr()
	if err != nil {
		return nil, err
	}
	nonce, err := randStr()
	if err != nil {
		return nil, err
	}

	authOpts := append(pkce.AuthURLOpts(), oauth2.AccessTypeOnline, oidc.Nonce(nonce))
	authURL := cfg.AuthCodeURL(state, authOpts...)

	out := i.Output
	if out == nil {
		out = os.Stderr
	}
	fmt.Fprintf(out, "Your browser will now be opened to:\n%s\n", authURL)
	openFn := i.Open
	if openFn == nil {
		openFn = open.Run
	}
	if err := openFn(authURL); err != nil {
		fmt.Fprintf(out, "Failed to open the browser, visit the URL above manually: %v\n", err)
	}

	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()
	code, err := getCodeFromLocalServer(ctx, state, redirectURL, listener)
	if err != nil {
		return nil, err
	}

	token, err := cfg.Exchange(ctx, code, pkce.TokenURLOpts()...)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, errors.New("token response has no id_token")
	}

	idToken, err := provider.Verifier(&oidc.Config{ClientID: i.ClientID}).Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verifying id_token: %w", err)
	}
	if idToken.Nonce != nonce {
		return nil, errors.New("id_token nonce does not match")
	}

	subject, verified, err := EmailFromIDToken(idToken)
	if err != nil {
		return nil, err
	}
	if subject == "" || !verified {
		subject = idToken.Subject
	}
	return &OIDCIDToken{
		RawString: rawIDToken,
		Subject:   subject,
		Issuer:    idToken.Issuer,
	}, nil
}

// EmailFromIDToken returns the email claim and whether the provider marked
// it verified.
func EmailFromIDToken(token *oidc.IDToken) (string, bool, error) {
	var claims struct {
		Email    string `json:"email"`
		Verified bool   `json:"email_verified"`
	}
	if err := token.Claims(&claims); err != nil {
		return "", false, err
	}
	return claims.Email, claims.Verified, nil
}

const htmlPage = `<html>
<title>Sigstore Auth</title>
<body>
<h1>Sigstore Auth Successful</h1>
<p>You may now close this page.</p>
</body>
</html>
`

func getCodeFromLocalServer(ctx context.Context, state string, redirectURL *url.URL, listener net.Listener) (string, error) {
	doneCh := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(redirectURL.Path, func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("state") != state {
			http.Error(w, "invalid state token", http.StatusBadRequest)
			select {
			case errCh <- errors.New("invalid state token"):
			default:
			}
			return
		}
		fmt.Fprint(w, htmlPage)
		select {
		case doneCh <- r.FormValue("code"):
		default:
		}
	})
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errCh <- err:
			default:
			}
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	select {
	case code := <-doneCh:
		return code, nil
	case err := <-errCh:
		return "", err
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for authorization code: %w", ctx.Err())
	}
}

type PKCEMethod string

const (
	PKCEPlain PKCEMethod = "plain"
	PKCES256  PKCEMethod = "S256"
)

type PKCE struct {
	Challenge string
	Method    PKCEMethod
	Value     string
}

func NewPKCE(method PKCEMethod) (*PKCE, error) {
	switch method {
	case PKCEPlain, PKCES256:
	default:
		return nil, errors.New("invalid PKCE method requested")
	}

	value, err := randStr()
	if err != nil {
		return nil, err
	}

	var challenge string
	if method == PKCES256 {
		h := sha256.Sum256([]byte(value))
		challenge = base64.RawURLEncoding.EncodeToString(h[:])
	} else {
		challenge = value
	}

	return &PKCE{
		Challenge: challenge,
		Method:    method,
		Value:     value,
	}, nil
}

func (p *PKCE) AuthURLOpts() []oauth2.AuthCodeOption {
	return []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge_method", string(p.Method)),
		oauth2.SetAuthURLParam("code_challenge", p.Challenge),
	}
}

func (p *PKCE) TokenURLOpts() []oauth2.AuthCodeOption {
	return []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_verifier", p.Value),
	}
}

// randStr returns 32 random bytes, URL safe encoded; long enough for a PKCE
// verifier (RFC 7636 requires 43 to 128 characters).
func randStr() (string, error) {
	buf := [32]byte{}
	n, err := rand.Read(buf[:])
	if err != nil {
		return "", err
	}
	if n != len(buf) {
		return "", errors.New("short read")
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}

// TokenOptions selects where DefaultTokenGetter takes the identity token from.
type TokenOptions struct {
	Token        string
	TokenPath    string
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// DefaultTokenGetter picks a token source: an explicit token, a token file,
// the GitHub Actions token endpoint, and finally the interactive browser
// flow when stdin is a terminal.
func DefaultTokenGetter(o TokenOptions) (TokenGetter, error) {
	switch {
	case o.Token != "" && o.TokenPath != "":
		return nil, errors.New("only one of token and token path can be used")
	case o.Token != "":
		return &StaticTokenGetter{RawToken: o.Token}, nil
	case o.TokenPath != "":
		return &FileTokenGetter{Path: o.TokenPath}, nil
	case InGitHubActions():
		return &GitHubActionsTokenGetter{Audience: DefaultAudience}, nil
	case isatty.IsTerminal(os.Stdin.Fd()):
		if o.Issuer == "" || o.ClientID == "" {
			return nil, errors.New("interactive login requires an OIDC issuer and client ID")
		}
		return &InteractiveIDTokenGetter{
			Issuer:       o.Issuer,
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			RedirectURL:  o.RedirectURL,
		}, nil
	default:
		return nil, errors.New("no identity token available: pass a token, a token file, or run interactively")
	}
}

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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	GitHubActionsIssuer = "https://token.actions.githubusercontent.com"

	githubTokenRequestURLEnv   = "ACTIONS_ID_TOKEN_REQUEST_URL"
	githubTokenRequestTokenEnv = "ACTIONS_ID_TOKEN_REQUEST_TOKEN"

	// DefaultAudience is the audience Fulcio accepts.
	DefaultAudience = "sigstore"

	defaultGitHubRetryMax     = 3
	defaultGitHubRetryWaitMin = 1 * time.Second
	defaultGitHubRetryWaitMax = 10 * time.Second
)

// InGitHubActions reports whether the process runs in a GitHub Actions job
// that is allowed to request identity tokens.
func InGitHubActions() bool {
	return os.Getenv("GITHUB_ACTIONS") == "true" && os.Getenv(githubTokenRequestURLEnv) != ""
}

// GitHubActionsTokenGetter fetches a workflow identity token from the
// GitHub Actions token endpoint. The job needs the id-token: write
// permission.
type GitHubActionsTokenGetter struct {
	Audience   string
	HTTPClient *http.Client

	// RetryMax bounds retries of 429 and 5xx replies and connection errors.
	// Zero selects the default; a negative value disables retries.
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

func (g *GitHubActionsTokenGetter) retryClient() *retryablehttp.Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = g.HTTPClient
	if rc.HTTPClient == nil {
		rc.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	switch {
	case g.RetryMax < 0:
		rc.RetryMax = 0
	case g.RetryMax == 0:
		rc.RetryMax = defaultGitHubRetryMax
	default:
		rc.RetryMax = g.RetryMax
	}
	rc.RetryWaitMin = defaultGitHubRetryWaitMin
	if g.RetryWaitMin > 0 {
		rc.RetryWaitMin = g.RetryWaitMin
	}
	rc.RetryWaitMax = defaultGitHubRetryWaitMax
	if g.RetryWaitMax > 0 {
		rc.RetryWaitMax = g.RetryWaitMax
	}
	rc.Logger = nil
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return rc
}

func (g *GitHubActionsTokenGetter) GetIDToken(ctx context.Context) (*OIDCIDToken, error) {
	requestURL := os.Getenv(githubTokenRequestURLEnv)
	if requestURL == "" {
		return nil, fmt.Errorf("%s is not set: is the id-token workflow permission set?", githubTokenRequestURLEnv)
	}
	requestToken := os.Getenv(githubTokenRequestTokenEnv)
	if requestToken == "" {
		return nil, fmt.Errorf("%s is not set: is the id-token workflow permission set?", githubTokenRequestTokenEnv)
	}

	u, err := url.Parse(requestURL)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", githubTokenRequestURLEnv, err)
	}
	audience := g.Audience
	if audience == "" {
		audience = DefaultAudience
	}
	q := u.Query()
	q.Set("audience", audience)
	u.RawQuery = q.Encode()

	req, err := retryablehttp.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Authorization", "bearer "+requestToken)
	req.Header.Set("Accept", "application/json")

	resp, err := g.retryClient().Do(req)
	if resp == nil {
		return nil, fmt.Errorf("requesting GitHub Actions identity token: %w", err)
	}
	// a response alongside err is the last attempt; its status is reported below
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub Actions token endpoint returned %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding GitHub Actions token response: %w", err)
	}
	if payload.Value == "" {
		return nil, errors.New("GitHub Actions token response has no value")
	}
	return ParseIDToken(payload.Value)
}

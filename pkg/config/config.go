// Copyright 2021 The Sigstore Authors.
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

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/sigstore/fulcio-client/pkg/log"
)

type ClientConfig struct {
	FulcioURL       string        `yaml:"fulcio-url"`
	OIDCIssuer      string        `yaml:"oidc-issuer"`
	OIDCClientID    string        `yaml:"oidc-client-id"`
	OIDCRedirectURL string        `yaml:"oidc-redirect-url"`
	Token           string        `yaml:"token"`
	TokenPath       string        `yaml:"token-path"`
	Timeout         time.Duration `yaml:"timeout"`
	RetryMax        int           `yaml:"retry-max"`
	UserAgent       string        `yaml:"user-agent"`
	// LogType is "prod" for JSON logs, anything else for development logs.
	LogType string `yaml:"log-type"`
	// CTLogPublicKeyPath enables SCT verification against the PEM key at
	// this path.
	CTLogPublicKeyPath string `yaml:"ct-log-public-key-path"`
}

var DefaultConfig = ClientConfig{
	FulcioURL:       "https://fulcio.sigstore.dev",
	OIDCIssuer:      "https://oauth2.sigstore.dev/auth",
	OIDCClientID:    "sigstore",
	OIDCRedirectURL: "http://localhost:0/auth/callback",
	Timeout:         30 * time.Second,
	RetryMax:        3,
	UserAgent:       "fulcio-client",
	LogType:         "dev",
}

// ParseConfig reads YAML on top of DefaultConfig. Unknown keys are an error.
func ParseConfig(b []byte) (ClientConfig, error) {
	cfg := DefaultConfig
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return ClientConfig{}, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Read a config from disk, or use defaults if there is no file at path.
func Read(path string) (ClientConfig, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if os.IsNotExist(err) {
		log.Logger.Debugf("No config at %s, using defaults", path)
		return DefaultConfig, nil
	}
	if err != nil {
		return ClientConfig{}, err
	}
	return ParseConfig(b)
}

// ApplyViper overrides fields with every flag or environment variable v has
// a value for. Keys match the YAML names.
func (c *ClientConfig) ApplyViper(v *viper.Viper) {
	if v.IsSet("fulcio-url") {
		c.FulcioURL = v.GetString("fulcio-url")
	}
	if v.IsSet("oidc-issuer") {
		c.OIDCIssuer = v.GetString("oidc-issuer")
	}
	if v.IsSet("oidc-client-id") {
		c.OIDCClientID = v.GetString("oidc-client-id")
	}
	if v.IsSet("oidc-redirect-url") {
		c.OIDCRedirectURL = v.GetString("oidc-redirect-url")
	}
	if v.IsSet("token") {
		c.Token = v.GetString("token")
	}
	if v.IsSet("token-path") {
		c.TokenPath = v.GetString("token-path")
	}
	if v.IsSet("timeout") {
		c.Timeout = v.GetDuration("timeout")
	}
	if v.IsSet("retry-max") {
		c.RetryMax = v.GetInt("retry-max")
	}
	if v.IsSet("user-agent") {
		c.UserAgent = v.GetString("user-agent")
	}
	if v.IsSet("log-type") {
		c.LogType = v.GetString("log-type")
	}
	if v.IsSet("ct-log-public-key-path") {
		c.CTLogPublicKeyPath = v.GetString("ct-log-public-key-path")
	}
}

func (c ClientConfig) Validate() error {
	u, err := url.Parse(c.FulcioURL)
	if err != nil {
		return fmt.Errorf("fulcio-url: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("fulcio-url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("fulcio-url: missing host")
	}
	if c.Token != "" && c.TokenPath != "" {
		return errors.New("token and token-path are mutually exclusive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.RetryMax < 0 {
		return fmt.Errorf("retry-max must not be negative, got %d", c.RetryMax)
	}
	return nil
}

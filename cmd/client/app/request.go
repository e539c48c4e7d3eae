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
	"crypto"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sigstore/sigstore/pkg/cryptoutils"
	"github.com/sigstore/sigstore/pkg/signature"
	"github.com/spf13/cobra"

	"github.com/sigstore/fulcio-client/pkg/api"
	"github.com/sigstore/fulcio-client/pkg/config"
	"github.com/sigstore/fulcio-client/pkg/ctl"
	"github.com/sigstore/fulcio-client/pkg/log"
	"github.com/sigstore/fulcio-client/pkg/oauthflow"
)

func newRequestCmd() *cobra.Command {
	var output, keyOutput, sctOutput string

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Request a signing certificate",
		Long: `Request authenticates with an OIDC identity token, generates an ephemeral
ECDSA key, and asks Fulcio to certify it. The certificate chain is written
as PEM, leaf first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			getter, err := oauthflow.DefaultTokenGetter(oauthflow.TokenOptions{
				Token:       cfg.Token,
				TokenPath:   cfg.TokenPath,
				Issuer:      cfg.OIDCIssuer,
				ClientID:    cfg.OIDCClientID,
				RedirectURL: cfg.OIDCRedirectURL,
			})
			if err != nil {
				return err
			}
			tok, err := getter.GetIDToken(ctx)
			if err != nil {
				return errors.Wrap(err, "getting identity token")
			}
			ctx = log.WithFields(ctx, "subject", tok.Subject)
			log.ContextLogger(ctx).Debugw("obtained identity token", "issuer", tok.Issuer)

			_, priv, err := signature.NewDefaultECDSASignerVerifier()
			if err != nil {
				return errors.Wrap(err, "generating ephemeral key")
			}
			csr, err := api.CreateCertificateRequest(priv, tok.Subject)
			if err != nil {
				return err
			}
			req, err := api.NewSigningRequest(csr)
			if err != nil {
				return err
			}

			fulcioURL, err := url.Parse(cfg.FulcioURL)
			if err != nil {
				return err
			}
			client := api.NewClient(fulcioURL,
				api.WithUserAgent(cfg.UserAgent),
				api.WithTimeout(cfg.Timeout),
				api.WithRetryMax(cfg.RetryMax),
				api.WithLogger(log.Logger))
			resp, err := client.SigningCert(ctx, *req, tok.RawString)
			if err != nil {
				if api.Retryable(err) {
					return errors.Wrap(err, "requesting signing certificate (transient, try again)")
				}
				return errors.Wrap(err, "requesting signing certificate")
			}

			if err := verifyIfConfigured(cfg, resp); err != nil {
				return err
			}

			chainPEM, err := resp.ChainPEM()
			if err != nil {
				return err
			}
			if err := writeOutput(cmd.OutOrStdout(), output, chainPEM); err != nil {
				return err
			}
			if keyOutput != "" {
				keyPEM, err := cryptoutils.MarshalPrivateKeyToPEM(priv)
				if err != nil {
					return err
				}
				if err := os.WriteFile(filepath.Clean(keyOutput), keyPEM, 0o600); err != nil {
					return err
				}
			}
			if sctOutput != "" && resp.SCT != nil {
				if err := os.WriteFile(filepath.Clean(sctOutput), resp.SCT.Raw, 0o600); err != nil {
					return err
				}
			}

			log.CliLogger.Infof("Received signing certificate for %s, serial %s, valid until %s",
				tok.Subject, resp.Cert.SerialNumber, resp.Cert.NotAfter)
			return nil
		},
	}
	cmd.Flags().StringVar(&output, "output", "", "write the certificate chain here instead of stdout")
	cmd.Flags().StringVar(&keyOutput, "key-output", "", "write the ephemeral private key here (PEM)")
	cmd.Flags().StringVar(&sctOutput, "sct-output", "", "write the detached SCT here, if Fulcio returned one")
	return cmd
}

func verifyIfConfigured(cfg config.ClientConfig, resp *api.CertificateResponse) error {
	if cfg.CTLogPublicKeyPath == "" {
		return nil
	}
	key, err := readPublicKey(cfg.CTLogPublicKeyPath)
	if err != nil {
		return err
	}
	if err := ctl.VerifySCT(resp, key); err != nil {
		return err
	}
	log.Logger.Debugw("verified SCT", "variant", resp.Variant)
	return nil
}

func readPublicKey(path string) (crypto.PublicKey, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrap(err, "reading CT log public key")
	}
	key, err := cryptoutils.UnmarshalPEMToPublicKey(b)
	if err != nil {
		return nil, errors.Wrap(err, "parsing CT log public key")
	}
	return key, nil
}

func writeOutput(stdout io.Writer, path string, b []byte) error {
	if path == "" {
		_, err := stdout.Write(b)
		return err
	}
	return os.WriteFile(filepath.Clean(path), b, 0o600)
}

func describe(w io.Writer, resp *api.CertificateResponse) error {
	issuer, err := resp.Issuer()
	if err != nil {
		issuer = "unknown"
	}
	var sans []string
	sans = append(sans, resp.Cert.EmailAddresses...)
	for _, u := range resp.Cert.URIs {
		sans = append(sans, u.String())
	}
	sct := "embedded"
	if resp.Variant == api.VariantDetachedSCT {
		sct = "detached"
		if resp.SCT == nil {
			sct = "none"
		}
	}
	_, err = fmt.Fprintf(w, "Variant:     %s\nSubject:     %s\nOIDC issuer: %s\nSerial:      %s\nNot after:   %s\nChain:       %d certificate(s) above the leaf\nSCT:         %s\n",
		resp.Variant, strings.Join(sans, ", "), issuer, resp.Cert.SerialNumber, resp.Cert.NotAfter.UTC(), len(resp.Chain), sct)
	return err
}

func init() {
	rootCmd.AddCommand(newRequestCmd())
}

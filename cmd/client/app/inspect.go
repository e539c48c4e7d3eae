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
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/sigstore/fulcio-client/pkg/api"
	"github.com/sigstore/fulcio-client/pkg/ctl"
)

func newInspectCmd() *cobra.Command {
	var file, ctLogKey string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Decode a saved signing certificate response",
		Long: `Inspect decodes a signing certificate response body saved from Fulcio,
checks its shape and chain order, and prints a summary.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := os.ReadFile(filepath.Clean(file))
			if err != nil {
				return err
			}
			resp, err := api.DecodeCertificateResponse(body)
			if err != nil {
				return errors.Wrapf(err, "decoding %s", file)
			}
			if ctLogKey != "" {
				key, err := readPublicKey(ctLogKey)
				if err != nil {
					return err
				}
				if err := ctl.VerifySCT(resp, key); err != nil {
					return err
				}
			}
			return describe(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "response body to decode")
	cmd.Flags().StringVar(&ctLogKey, "ct-log-public-key", "", "PEM public key of the CT log to verify the SCT against")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func init() {
	rootCmd.AddCommand(newInspectCmd())
}

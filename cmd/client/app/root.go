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

package app

import (
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sigstore/fulcio-client/pkg/config"
	"github.com/sigstore/fulcio-client/pkg/log"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:          "fulcio-client",
	Short:        "Fulcio client",
	Long:         "fulcio-client requests short lived code signing certificates from a Fulcio certificate authority",
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if path := viper.GetString("metrics-file"); path != "" {
		if werr := writeMetrics(path); werr != nil {
			log.CliLogger.Warnf("writing metrics to %s: %v", path, werr)
		}
	}
	if err != nil {
		log.CliLogger.Error(err)
		os.Exit(1)
	}
}

// writeMetrics dumps the request counters and latencies in the text
// exposition format, for node_exporter's textfile collector.
func writeMetrics(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

// loadConfig layers flags and FULCIO_CLIENT_* environment variables over the
// config file, if any, and the defaults.
func loadConfig() (config.ClientConfig, error) {
	cfg := config.DefaultConfig
	if path := viper.GetString("config"); path != "" {
		var err error
		if cfg, err = config.Read(path); err != nil {
			return config.ClientConfig{}, err
		}
	}
	cfg.ApplyViper(viper.GetViper())
	if err := cfg.Validate(); err != nil {
		return config.ClientConfig{}, err
	}
	log.ConfigureLogger(cfg.LogType)
	return cfg, nil
}

func init() {
	flags := rootCmd.PersistentFlags()
	addConfigFlags(flags)
	flags.String("metrics-file", "", "write Prometheus metrics to this file on exit")

	viper.SetEnvPrefix("fulcio_client")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlags(flags); err != nil {
		log.Logger.Fatal(err)
	}
}

func addConfigFlags(flags *pflag.FlagSet) {
	d := config.DefaultConfig
	flags.String("config", "", "path to a YAML config file")
	flags.String("fulcio-url", d.FulcioURL, "address of the Fulcio server")
	flags.String("oidc-issuer", d.OIDCIssuer, "OIDC provider used for interactive login")
	flags.String("oidc-client-id", d.OIDCClientID, "OIDC client ID used for interactive login")
	flags.String("oidc-redirect-url", d.OIDCRedirectURL, "loopback redirect URL for interactive login")
	flags.String("token", "", "OIDC identity token to authenticate with")
	flags.String("token-path", "", "file holding the OIDC identity token")
	flags.Duration("timeout", d.Timeout, "timeout of each request to Fulcio")
	flags.Int("retry-max", d.RetryMax, "retries of transient failures")
	flags.String("user-agent", d.UserAgent, "User-Agent sent to Fulcio")
	flags.String("log-type", d.LogType, "logger type to use (dev/prod)")
	flags.String("ct-log-public-key-path", "", "PEM public key of the CT log; enables SCT verification")
}

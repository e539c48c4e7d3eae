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

package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const (
	latencyMetric  = "fulcio_client_api_latency"
	requestsMetric = "fulcio_client_certificate_requests_total"
)

// parseMF reads the text exposition written by fulcio-client --metrics-file.
func parseMF(path string) (map[string]*dto.MetricFamily, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var parser expfmt.TextParser
	return parser.TextToMetricFamilies(f)
}

func main() {
	f := flag.String("file", "metrics.prom", "metrics file written by fulcio-client --metrics-file")
	flag.Parse()

	mf, err := parseMF(*f)
	if err != nil {
		log.Fatalf("Failed to read/parse metrics: %v", err)
	}
	if err := check(mf); err != nil {
		log.Fatal(err)
	}
}

func check(mf map[string]*dto.MetricFamily) error {
	latency, ok := mf[latencyMetric]
	if !ok || latency == nil {
		return fmt.Errorf("did not get %s metric", latencyMetric)
	}
	if err := checkLatency(latency); err != nil {
		return fmt.Errorf("%s metric failed: %w", latencyMetric, err)
	}

	requests, ok := mf[requestsMetric]
	if !ok || requests == nil {
		return fmt.Errorf("did not get %s metric", requestsMetric)
	}
	if err := checkRequests(requests); err != nil {
		return fmt.Errorf("%s metric failed: %w", requestsMetric, err)
	}
	return nil
}

func label(m *dto.Metric, name string) string {
	for _, l := range m.Label {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

// Make sure latency is a histogram with exactly one successful request.
func checkLatency(latency *dto.MetricFamily) error {
	if latency.GetType() != dto.MetricType_HISTOGRAM {
		return fmt.Errorf("wrong type, wanted %v, got: %v", dto.MetricType_HISTOGRAM, latency.GetType())
	}
	var successes uint64
	for _, m := range latency.Metric {
		if strings.HasPrefix(label(m, "code"), "2") {
			successes += m.GetHistogram().GetSampleCount()
		}
	}
	if successes != 1 {
		return fmt.Errorf("unexpected successful sample count, wanted 1, got %d", successes)
	}
	return nil
}

// Make sure the request counter saw a certificate of a known variant.
func checkRequests(requests *dto.MetricFamily) error {
	if requests.GetType() != dto.MetricType_COUNTER {
		return fmt.Errorf("wrong type, wanted %v, got: %v", dto.MetricType_COUNTER, requests.GetType())
	}
	for _, m := range requests.Metric {
		switch label(m, "result") {
		case "signedCertificateEmbeddedSct", "signedCertificateDetachedSct":
			if m.GetCounter().GetValue() >= 1 {
				return nil
			}
		}
	}
	return fmt.Errorf("no certificate was counted, got: %+v", requests.Metric)
}

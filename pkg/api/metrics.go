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

package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCertificateRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulcio_client_certificate_requests_total",
		Help: "Count of signing certificate requests by result",
	}, []string{"result"})

	MetricLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "fulcio_client_api_latency",
		Help: "Latency of signing certificate requests, including retries",
	}, []string{"code"})
)

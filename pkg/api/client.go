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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/sigstore/fulcio-client/pkg/log"
)

const (
	// SigstorePublicServerURL is the URL of Sigstore's public Fulcio service.
	SigstorePublicServerURL = "https://fulcio.sigstore.dev"

	signingCertPath = "/api/v2/signingCert"

	// maxResponseBytes bounds the size of a response body read into memory.
	maxResponseBytes = 1 << 20
)

// Client issues signing certificates.
type Client interface {
	// SigningCert submits req authenticated with the OIDC identity token and
	// returns the normalized certificate response.
	SigningCert(ctx context.Context, req SigningRequest, token string) (*CertificateResponse, error)
}

type client struct {
	options

	baseURL *url.URL
	client  *retryablehttp.Client
}

// NewClient returns a Client for the Fulcio instance at url. A nil url
// selects the public Sigstore instance.
func NewClient(u *url.URL, opts ...ClientOption) Client {
	o := makeOptions(opts...)
	if o.Logger == nil {
		o.Logger = log.Logger
	}
	if u == nil {
		u, _ = url.Parse(SigstorePublicServerURL)
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{
		Timeout:   o.Timeout,
		Transport: createRoundTripper(http.DefaultTransport, o),
	}
	rc.RetryMax = o.RetryMax
	rc.RetryWaitMin = o.RetryWaitMin
	rc.RetryWaitMax = o.RetryWaitMax
	rc.Logger = &leveledLogger{o.Logger}
	// hand the last response back instead of a generic "giving up" error
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &client{
		options: *o,
		baseURL: u,
		client:  rc,
	}
}

func (c *client) SigningCert(ctx context.Context, req SigningRequest, token string) (*CertificateResponse, error) {
	start := time.Now()
	resp, code, err := c.signingCert(ctx, req, token)
	MetricLatency.WithLabelValues(strconv.Itoa(code)).Observe(time.Since(start).Seconds())
	metricCertificateRequests.WithLabelValues(resultLabel(resp, err)).Inc()
	return resp, err
}

func (c *client) signingCert(ctx context.Context, req SigningRequest, token string) (*CertificateResponse, int, error) {
	logger := c.logger(ctx)

	body, err := req.Encode()
	if err != nil {
		return nil, 0, err
	}

	endpoint := c.baseURL.ResolveReference(&url.URL{Path: signingCertPath})
	httpReq, err := retryablehttp.NewRequest(http.MethodPost, endpoint.String(), body)
	if err != nil {
		return nil, 0, err
	}
	httpReq = httpReq.WithContext(ctx)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	logger.Debugw("requesting signing certificate", "url", endpoint.String())
	httpResp, err := c.client.Do(httpReq)
	if httpResp == nil {
		return nil, 0, err
	}
	// with a response in hand, err only restates the status after the last retry
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, httpResp.StatusCode, err
	}
	if len(respBody) > maxResponseBytes {
		return nil, httpResp.StatusCode, fmt.Errorf("response body exceeds %d bytes", maxResponseBytes)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, httpResp.StatusCode, newHTTPError(httpResp.StatusCode, respBody)
	}

	certResp, err := DecodeCertificateResponse(respBody)
	if err != nil {
		logger.Errorw("rejected signing certificate response", "error", err)
		return nil, httpResp.StatusCode, err
	}
	logger.Debugw("received signing certificate",
		"variant", certResp.Variant,
		"serial", certResp.Cert.SerialNumber.String(),
		"chainLength", len(certResp.Chain))
	return certResp, httpResp.StatusCode, nil
}

// logger prefers a logger attached to ctx over the one set with WithLogger.
func (c *client) logger(ctx context.Context) *zap.SugaredLogger {
	if l, ok := log.FromContext(ctx); ok {
		return l
	}
	return c.Logger
}

// HTTPError is a non-2xx reply from the CA.
type HTTPError struct {
	StatusCode int
	// Code and Message come from the {"code": ..., "message": ...} error body
	// Fulcio sends, when present.
	Code    int
	Message string
}

func newHTTPError(status int, body []byte) *HTTPError {
	e := &HTTPError{StatusCode: status}
	var payload struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		e.Code = payload.Code
		e.Message = payload.Message
	} else {
		e.Message = string(bytes.TrimSpace(body))
	}
	return e
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// Retryable reports whether a failed SigningCert call may succeed if repeated
// unchanged. Encoding and decoding errors never are; a CA that returned an
// empty or malformed chain will do so again.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests ||
			(httpErr.StatusCode >= 500 && httpErr.StatusCode != http.StatusNotImplemented)
	}
	// context cancellation is the caller's decision, not a transient failure
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

func resultLabel(resp *CertificateResponse, err error) string {
	var apiErr *Error
	var httpErr *HTTPError
	switch {
	case err == nil && resp != nil:
		return string(resp.Variant)
	case errors.As(err, &apiErr):
		return apiErr.Kind.String()
	case errors.As(err, &httpErr):
		return "http error"
	default:
		return "transport error"
	}
}

// ClientOption is a functional option for customizing the client.
type ClientOption func(*options)

type options struct {
	UserAgent    string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Logger       *zap.SugaredLogger
}

const (
	defaultTimeout      = 30 * time.Second
	defaultRetryMax     = 3
	defaultRetryWaitMin = 1 * time.Second
	defaultRetryWaitMax = 10 * time.Second
)

func makeOptions(opts ...ClientOption) *options {
	o := &options{
		UserAgent:    "",
		Timeout:      defaultTimeout,
		RetryMax:     defaultRetryMax,
		RetryWaitMin: defaultRetryWaitMin,
		RetryWaitMax: defaultRetryWaitMax,
		Logger:       log.Logger,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// WithUserAgent sets the User-Agent header of every request.
func WithUserAgent(userAgent string) ClientOption {
	return func(o *options) {
		o.UserAgent = userAgent
	}
}

// WithTimeout sets the timeout of each HTTP attempt.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(o *options) {
		o.Timeout = timeout
	}
}

// WithRetryMax sets how many times a transient failure is retried. Zero
// disables retries.
func WithRetryMax(retryMax int) ClientOption {
	return func(o *options) {
		o.RetryMax = retryMax
	}
}

// WithRetryWait bounds the backoff between retries.
func WithRetryWait(minWait, maxWait time.Duration) ClientOption {
	return func(o *options) {
		o.RetryWaitMin = minWait
		o.RetryWaitMax = maxWait
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *zap.SugaredLogger) ClientOption {
	return func(o *options) {
		o.Logger = logger
	}
}

type roundTripper struct {
	http.RoundTripper
	UserAgent string
}

// RoundTrip implements `http.RoundTripper`
func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", rt.UserAgent)
	return rt.RoundTripper.RoundTrip(req)
}

func createRoundTripper(inner http.RoundTripper, o *options) http.RoundTripper {
	if inner == nil {
		inner = http.DefaultTransport
	}
	if o.UserAgent == "" {
		// There's nothing to do...
		return inner
	}
	return &roundTripper{
		RoundTripper: inner,
		UserAgent:    o.UserAgent,
	}
}

// leveledLogger adapts a zap logger to retryablehttp.LeveledLogger.
type leveledLogger struct {
	logger *zap.SugaredLogger
}

func (l *leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, keysAndValues...)
}

func (l *leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l *leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l *leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warnw(msg, keysAndValues...)
}

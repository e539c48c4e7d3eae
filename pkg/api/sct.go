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
//

package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// SCTVersion is the version of a signed certificate timestamp. RFC 6962
// defines a single version, encoded as 0.
type SCTVersion uint8

const (
	SCTVersionV1 SCTVersion = 0
)

func (v SCTVersion) String() string {
	switch v {
	case SCTVersionV1:
		return "V1"
	default:
		return fmt.Sprintf("SCTVersion(%d)", uint8(v))
	}
}

func (v SCTVersion) MarshalJSON() ([]byte, error) {
	if v != SCTVersionV1 {
		return nil, newError(KindUnknownSCTVersion, nil, "%s: %d", unsupportedSCTVersion, uint8(v))
	}
	return []byte("0"), nil
}

// UnmarshalJSON accepts only known versions. Any other integer is an
// ErrUnknownSCTVersion, anything that is not an integer an ErrResponseShape.
func (v *SCTVersion) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if !isJSONInteger(trimmed) {
		return newError(KindResponseShape, fmt.Errorf("sct version %q is not an integer", trimmed), invalidSCT)
	}
	i, err := strconv.ParseInt(string(trimmed), 10, 64)
	if errors.Is(err, strconv.ErrRange) {
		return newError(KindUnknownSCTVersion, nil, "%s: %s", unsupportedSCTVersion, trimmed)
	}
	if err != nil {
		return newError(KindResponseShape, err, invalidSCT)
	}
	if i != int64(SCTVersionV1) {
		return newError(KindUnknownSCTVersion, nil, "%s: %d", unsupportedSCTVersion, i)
	}
	*v = SCTVersionV1
	return nil
}

// isJSONInteger reports whether b is an optional minus sign followed by
// digits only.
func isJSONInteger(b []byte) bool {
	if len(b) > 0 && b[0] == '-' {
		b = b[1:]
	}
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// DetachedSCT is the signed certificate timestamp Fulcio returns next to the
// chain when the CA cannot embed it. The JSON form is the RFC 6962 add-chain
// response.
type DetachedSCT struct {
	Version    SCTVersion
	LogID      []byte
	Timestamp  uint64
	Extensions string
	Signature  []byte

	// Raw is the JSON document as received.
	Raw []byte
}

type detachedSCTJSON struct {
	Version    *SCTVersion `json:"sct_version"`
	ID         []byte      `json:"id"`
	Timestamp  uint64      `json:"timestamp"`
	Extensions string      `json:"extensions"`
	Signature  []byte      `json:"signature"`
}

// ParseDetachedSCT decodes the signedCertificateTimestamp field of a detached
// response.
func ParseDetachedSCT(b []byte) (*DetachedSCT, error) {
	if err := checkFieldCase(b, "sct_version", "id", "timestamp", "extensions", "signature"); err != nil {
		return nil, newError(KindResponseShape, err, invalidSCT)
	}
	var raw detachedSCTJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) {
			return nil, apiErr
		}
		return nil, newError(KindResponseShape, err, invalidSCT)
	}
	if raw.Version == nil {
		return nil, newError(KindResponseShape, errors.New("missing sct_version"), invalidSCT)
	}
	if len(raw.ID) == 0 {
		return nil, newError(KindResponseShape, errors.New("missing log id"), invalidSCT)
	}
	if len(raw.Signature) == 0 {
		return nil, newError(KindResponseShape, errors.New("missing signature"), invalidSCT)
	}
	return &DetachedSCT{
		Version:    *raw.Version,
		LogID:      raw.ID,
		Timestamp:  raw.Timestamp,
		Extensions: raw.Extensions,
		Signature:  raw.Signature,
		Raw:        append([]byte(nil), b...),
	}, nil
}

func (s DetachedSCT) MarshalJSON() ([]byte, error) {
	v := s.Version
	return json.Marshal(detachedSCTJSON{
		Version:    &v,
		ID:         s.LogID,
		Timestamp:  s.Timestamp,
		Extensions: s.Extensions,
		Signature:  s.Signature,
	})
}

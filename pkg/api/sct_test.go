// Copyright 2022 The Sigstore Authors.
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

package api

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/magiconair/properties/assert"
)

func TestSCTVersionUnmarshalJSON(t *testing.T) {
	tests := []struct {
		in       string
		want     SCTVersion
		wantKind error
	}{
		{in: `0`, want: SCTVersionV1},
		{in: ` 0 `, want: SCTVersionV1},
		{in: `1`, wantKind: ErrUnknownSCTVersion},
		{in: `255`, wantKind: ErrUnknownSCTVersion},
		{in: `-1`, wantKind: ErrUnknownSCTVersion},
		{in: `99999999999999999999`, wantKind: ErrUnknownSCTVersion},
		{in: `-99999999999999999999`, wantKind: ErrUnknownSCTVersion},
		{in: `1e3`, wantKind: ErrResponseShape},
		{in: `-`, wantKind: ErrResponseShape},
		{in: `"0"`, wantKind: ErrResponseShape},
		{in: `"V1"`, wantKind: ErrResponseShape},
		{in: `0.5`, wantKind: ErrResponseShape},
		{in: `true`, wantKind: ErrResponseShape},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var v SCTVersion
			err := v.UnmarshalJSON([]byte(tt.in))
			if tt.wantKind != nil {
				if !errors.Is(err, tt.wantKind) {
					t.Fatalf("got error %v, want %v", err, tt.wantKind)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			assert.Equal(t, v, tt.want)
		})
	}
}

func TestSCTVersionInObject(t *testing.T) {
	var got struct {
		Version SCTVersion `json:"version"`
	}
	if err := json.Unmarshal([]byte(`{"version":0}`), &got); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, got.Version, SCTVersionV1)
	assert.Equal(t, got.Version.String(), "V1")

	err := json.Unmarshal([]byte(`{"version":1}`), &got)
	if !errors.Is(err, ErrUnknownSCTVersion) {
		t.Fatalf("got error %v, want %v", err, ErrUnknownSCTVersion)
	}
}

func TestSCTVersionMarshalJSON(t *testing.T) {
	b, err := json.Marshal(SCTVersionV1)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, string(b), "0")

	if _, err := json.Marshal(SCTVersion(3)); !errors.Is(err, ErrUnknownSCTVersion) {
		t.Fatalf("got error %v, want %v", err, ErrUnknownSCTVersion)
	}
}

func TestParseDetachedSCT(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		wantKind error
	}{
		{name: "valid", in: `{"sct_version":0,"id":"AQID","timestamp":5,"extensions":"","signature":"BAM="}`},
		{name: "missing version", in: `{"id":"AQID","timestamp":5,"signature":"BAM="}`, wantKind: ErrResponseShape},
		{name: "missing id", in: `{"sct_version":0,"timestamp":5,"signature":"BAM="}`, wantKind: ErrResponseShape},
		{name: "missing signature", in: `{"sct_version":0,"id":"AQID","timestamp":5}`, wantKind: ErrResponseShape},
		{name: "unknown version", in: `{"sct_version":7,"id":"AQID","timestamp":5,"signature":"BAM="}`, wantKind: ErrUnknownSCTVersion},
		{name: "not json", in: `sct`, wantKind: ErrResponseShape},
		{name: "case variant version", in: `{"SCT_Version":0,"id":"AQID","timestamp":5,"signature":"BAM="}`, wantKind: ErrResponseShape},
		{name: "case variant signature", in: `{"sct_version":0,"id":"AQID","timestamp":5,"Signature":"BAM="}`, wantKind: ErrResponseShape},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sct, err := ParseDetachedSCT([]byte(tt.in))
			if tt.wantKind != nil {
				if !errors.Is(err, tt.wantKind) {
					t.Fatalf("got error %v, want %v", err, tt.wantKind)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			want := &DetachedSCT{
				Version:   SCTVersionV1,
				LogID:     []byte{1, 2, 3},
				Timestamp: 5,
				Signature: []byte{4, 3},
				Raw:       []byte(tt.in),
			}
			if diff := cmp.Diff(want, sct); diff != "" {
				t.Errorf("ParseDetachedSCT() (-want +got):\n%s", diff)
			}

			b, err := json.Marshal(sct)
			if err != nil {
				t.Fatal(err)
			}
			again, err := ParseDetachedSCT(b)
			if err != nil {
				t.Fatal(err)
			}
			again.Raw = sct.Raw
			if diff := cmp.Diff(sct, again); diff != "" {
				t.Errorf("re-encoded SCT (-want +got):\n%s", diff)
			}
		})
	}
}

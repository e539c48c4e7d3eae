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

package oauthflow

import (
	"reflect"
	"testing"
	"unsafe"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/magiconair/properties/assert"
)

// "claims" is unexported on oidc.IDToken
func setIDTokenClaims(idToken *oidc.IDToken, data []byte) {
	val := reflect.Indirect(reflect.ValueOf(idToken))
	member := val.FieldByName("claims")
	realPointer := (*[]byte)(unsafe.Pointer(member.UnsafeAddr()))
	*realPointer = data
}

func TestEmailFromIDToken(t *testing.T) {
	tests := []struct {
		name         string
		claims       []byte
		wantEmail    string
		wantVerified bool
		wantErr      string
	}{{
		name:    "nil claims",
		claims:  nil,
		wantErr: "oidc: claims not set",
	}, {
		name:   "no claims",
		claims: []byte(`{}`),
	}, {
		name:      "unverified email",
		claims:    []byte(`{"email":"alice@example.com"}`),
		wantEmail: "alice@example.com",
	}, {
		name:         "verified email",
		claims:       []byte(`{"email":"alice@example.com", "email_verified":true}`),
		wantEmail:    "alice@example.com",
		wantVerified: true,
	}, {
		name:    "email of the wrong type",
		claims:  []byte(`{"email":42}`),
		wantErr: "json: cannot unmarshal number into Go struct field .email of type string",
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idToken := &oidc.IDToken{}
			setIDTokenClaims(idToken, tt.claims)
			email, verified, err := EmailFromIDToken(idToken)
			assert.Equal(t, email, tt.wantEmail)
			assert.Equal(t, verified, tt.wantVerified)
			if tt.wantErr == "" {
				assert.Equal(t, err, nil)
			} else if err == nil {
				t.Fatalf("expected error %q", tt.wantErr)
			}
		})
	}
}

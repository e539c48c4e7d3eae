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
	"errors"
	"fmt"
	"testing"

	"github.com/magiconair/properties/assert"
)

func TestErrorIs(t *testing.T) {
	sentinels := []error{ErrRequestEncoding, ErrResponseShape, ErrCertificateParse, ErrUnknownSCTVersion}
	kinds := []ErrorKind{KindRequestEncoding, KindResponseShape, KindCertificateParse, KindUnknownSCTVersion}

	for i, kind := range kinds {
		err := fmt.Errorf("context: %w", newError(kind, errors.New("cause"), "message"))
		for j, sentinel := range sentinels {
			assert.Equal(t, errors.Is(err, sentinel), i == j, fmt.Sprintf("%s is %s", kind, sentinel))
		}
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("cause")
	err := newError(KindCertificateParse, cause, "certificate %d", 2)
	assert.Equal(t, errors.Is(err, cause), true)
	assert.Equal(t, err.Error(), "certificate 2: cause")

	assert.Equal(t, newError(KindResponseShape, nil, emptyChain).Error(), emptyChain)
	assert.Equal(t, ErrUnknownSCTVersion.Error(), "unknown SCT version")
	assert.Equal(t, ErrorKind(42).String(), "ErrorKind(42)")
}

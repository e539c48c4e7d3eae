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

package log

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextLogger(t *testing.T) {
	if got := ContextLogger(context.Background()); got != Logger {
		t.Error("expected the global logger for a bare context")
	}

	core, logs := observer.New(zap.DebugLevel)
	ctx := WithLogger(context.Background(), zap.New(core).Sugar())
	ctx = WithFields(ctx, "subject", "alice@example.com")
	ContextLogger(ctx).Infow("requesting certificate", "attempt", 1)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["subject"] != "alice@example.com" {
		t.Errorf("subject field = %v", fields["subject"])
	}
	if fields["attempt"] != int64(1) {
		t.Errorf("attempt field = %v (%T)", fields["attempt"], fields["attempt"])
	}
}

func TestFromContext(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Error("expected no logger on a bare context")
	}
	var nilLogger *zap.SugaredLogger
	if _, ok := FromContext(WithLogger(context.Background(), nilLogger)); ok {
		t.Error("expected a nil logger to be ignored")
	}
	want := zap.NewNop().Sugar()
	got, ok := FromContext(WithLogger(context.Background(), want))
	if !ok || got != want {
		t.Errorf("FromContext() = %v, %v", got, ok)
	}
}

func TestConfigureLogger(t *testing.T) {
	defer ConfigureLogger("dev")
	for _, logType := range []string{"prod", "dev"} {
		ConfigureLogger(logType)
		if Logger == nil {
			t.Fatalf("ConfigureLogger(%q) left no logger", logType)
		}
	}
}

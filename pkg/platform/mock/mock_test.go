// Copyright 2019 Intel Corporation. All Rights Reserved.
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

package mock

import (
	"testing"

	"github.com/bbqrtrm/rtrm/pkg/accounter"
	"github.com/bbqrtrm/rtrm/pkg/restree"
)

func TestSetupMapReclaimRelease(t *testing.T) {
	p := New()
	app := restree.AppID("1:0")

	if err := p.Setup(app); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if !p.IsSetup(app) {
		t.Fatalf("expected %s to be marked setup", app)
	}

	assign := accounter.AssignmentMap{
		"cpu.pe": {Amount: 100, Bindings: []restree.Path{restree.MustParsePath("sys0.cpu0.pe0")}},
	}
	if err := p.MapResources(app, assign, true); err != nil {
		t.Fatalf("MapResources: %v", err)
	}
	mapped, ok := p.Mapped(app)
	if !ok || len(mapped) != 1 {
		t.Fatalf("expected assignment to be recorded, got %v, %v", mapped, ok)
	}
	if !p.IsExclusive(app) {
		t.Fatalf("expected exclusive flag to be recorded")
	}

	if err := p.ReclaimResources(app); err != nil {
		t.Fatalf("ReclaimResources: %v", err)
	}
	if _, ok := p.Mapped(app); ok {
		t.Fatalf("expected mapping to be cleared after reclaim")
	}

	if err := p.Release(app); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if !p.IsReleased(app) {
		t.Fatalf("expected %s to be marked released", app)
	}
	if p.IsSetup(app) {
		t.Fatalf("expected setup state to be cleared by Release")
	}
}

func TestFailAppInjectsErrors(t *testing.T) {
	p := New()
	app := restree.AppID("2:0")
	p.FailApp = app

	if err := p.Setup(app); err == nil {
		t.Fatalf("expected Setup to fail for the injected app")
	}
	if err := p.MapResources(app, accounter.AssignmentMap{}, false); err == nil {
		t.Fatalf("expected MapResources to fail for the injected app")
	}
}

func TestRefreshCountsCalls(t *testing.T) {
	p := New()
	if err := p.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if err := p.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if p.Refreshed != 2 {
		t.Fatalf("expected Refreshed to count 2 calls, got %d", p.Refreshed)
	}
}

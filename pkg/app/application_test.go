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

package app

import (
	"testing"

	"github.com/bbqrtrm/rtrm/pkg/accounter"
	"github.com/bbqrtrm/rtrm/pkg/recipe"
	"github.com/bbqrtrm/rtrm/pkg/restree"
)

func newTestAccounter(t *testing.T) (*accounter.Accounter, restree.ViewToken) {
	t.Helper()
	tree := restree.NewTree()
	if _, err := tree.Register(restree.MustParsePath("sys0.cpu0.pe0"), "pe", 4); err != nil {
		t.Fatalf("register pe0: %v", err)
	}
	if _, err := tree.Register(restree.MustParsePath("sys0.cpu1.pe1"), "pe", 4); err != nil {
		t.Fatalf("register pe1: %v", err)
	}
	acc := accounter.New(tree)
	return acc, acc.LiveView()
}

func testRecipe(t *testing.T) *recipe.Recipe {
	t.Helper()
	low := recipe.NewAWM(0, "low", 1, map[string]uint64{"cpu.pe": 1})
	high := recipe.NewAWM(1, "high", 2, map[string]uint64{"cpu.pe": 2})
	r := recipe.New("test", []*recipe.AWM{low, high}, nil, 0, nil)
	if err := r.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return r
}

func refOn(cpu int) recipe.BindingRef {
	return recipe.BindingRef{Domain: restree.TypeCPU, ID: cpu}
}

func bindingOn(cpu int) recipe.CandidateBinding {
	return recipe.CandidateBinding{
		"cpu.pe": restree.MustParsePath("sys0.cpu" + itoa(cpu) + ".pe" + itoa(cpu)),
	}
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	if i == 1 {
		return "1"
	}
	panic("itoa: out of range for this test helper")
}

func TestEnableDisableLifecycle(t *testing.T) {
	acc, _ := newTestAccounter(t)
	a := New(ID{PID: 1, EXC: 0}, "demo", 5, "cpp", false, acc)

	if a.State() != Disabled {
		t.Fatalf("new application should start DISABLED, got %s", a.State())
	}
	if err := a.Enable(); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if a.State() != Ready {
		t.Fatalf("expected READY after enable, got %s", a.State())
	}
	if err := a.Disable(); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if a.State() != Disabled {
		t.Fatalf("expected DISABLED after disable, got %s", a.State())
	}
}

func TestAdoptRecipeRequiresDisabled(t *testing.T) {
	acc, _ := newTestAccounter(t)
	a := New(ID{PID: 1, EXC: 0}, "demo", 5, "cpp", false, acc)
	if err := a.Enable(); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := a.AdoptRecipe(testRecipe(t)); err == nil {
		t.Fatalf("expected adopt to fail outside DISABLED")
	}
}

func TestScheduleRequestStarting(t *testing.T) {
	acc, view := newTestAccounter(t)
	a := New(ID{PID: 1, EXC: 0}, "demo", 5, "cpp", false, acc)
	if err := a.AdoptRecipe(testRecipe(t)); err != nil {
		t.Fatalf("adopt: %v", err)
	}
	if err := a.Enable(); err != nil {
		t.Fatalf("enable: %v", err)
	}

	low := a.workingModes[0]
	low.AddCandidateBinding(refOn(0), bindingOn(0))

	if err := a.ScheduleRequest(0, refOn(0), view); err != nil {
		t.Fatalf("schedule_request: %v", err)
	}
	if a.State() != Sync {
		t.Fatalf("expected SYNC after first schedule, got %s", a.State())
	}
	if a.SyncState() != SyncStarting {
		t.Fatalf("expected STARTING, got %s", a.SyncState())
	}

	if err := a.ScheduleCommit(); err != nil {
		t.Fatalf("schedule_commit: %v", err)
	}
	if a.State() != Running {
		t.Fatalf("expected RUNNING after commit, got %s", a.State())
	}
	if got := a.CurrentAWM().ID; got != 0 {
		t.Fatalf("expected current awm 0, got %d", got)
	}
	if got := a.ScheduleCount(); got != 1 {
		t.Fatalf("expected schedule count 1, got %d", got)
	}
}

func TestScheduleRequestClassifiesReconfMigrateMigrec(t *testing.T) {
	cases := []struct {
		name       string
		startAWM   int
		startCPU   int
		nextAWM    int
		nextCPU    int
		wantSync   SyncState
	}{
		{"same awm same cpu is a no-op", 0, 0, 0, 0, SyncNone},
		{"same awm different cpu is MIGRATE", 0, 0, 0, 1, SyncMigrate},
		{"different awm same cpu is RECONF", 0, 0, 1, 0, SyncReconf},
		{"different awm different cpu is MIGREC", 0, 0, 1, 1, SyncMigrec},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			acc, view := newTestAccounter(t)
			a := New(ID{PID: 1, EXC: 0}, "demo", 5, "cpp", false, acc)
			if err := a.AdoptRecipe(testRecipe(t)); err != nil {
				t.Fatalf("adopt: %v", err)
			}
			if err := a.Enable(); err != nil {
				t.Fatalf("enable: %v", err)
			}

			start := a.workingModes[tc.startAWM]
			start.AddCandidateBinding(refOn(tc.startCPU), bindingOn(tc.startCPU))
			if err := a.ScheduleRequest(tc.startAWM, refOn(tc.startCPU), view); err != nil {
				t.Fatalf("initial schedule_request: %v", err)
			}
			if err := a.ScheduleCommit(); err != nil {
				t.Fatalf("initial schedule_commit: %v", err)
			}

			// Each scheduling round books into its own candidate view.
			round2, err := acc.GetView("round2")
			if err != nil {
				t.Fatalf("get_view: %v", err)
			}
			next := a.workingModes[tc.nextAWM]
			next.AddCandidateBinding(refOn(tc.nextCPU), bindingOn(tc.nextCPU))
			if err := a.ScheduleRequest(tc.nextAWM, refOn(tc.nextCPU), round2); err != nil {
				t.Fatalf("second schedule_request: %v", err)
			}

			if tc.wantSync == SyncNone {
				if a.State() != Running {
					t.Fatalf("expected a no-op request to leave state RUNNING, got %s", a.State())
				}
				return
			}
			if a.SyncState() != tc.wantSync {
				t.Fatalf("expected sync state %s, got %s", tc.wantSync, a.SyncState())
			}
		})
	}
}

func TestSameAWMReshuffledBindingIsReconf(t *testing.T) {
	// Two processing elements under the same CPU package: rebinding from
	// pe0 to pe1 keeps the CPU set intact, so only the accounter's
	// reshuffling check can tell the rounds apart.
	tree := restree.NewTree()
	if _, err := tree.Register(restree.MustParsePath("sys0.cpu0.pe0"), "pe", 4); err != nil {
		t.Fatalf("register pe0: %v", err)
	}
	if _, err := tree.Register(restree.MustParsePath("sys0.cpu0.pe1"), "pe", 4); err != nil {
		t.Fatalf("register pe1: %v", err)
	}
	acc := accounter.New(tree)

	a := New(ID{PID: 1, EXC: 0}, "demo", 5, "cpp", false, acc)
	if err := a.AdoptRecipe(testRecipe(t)); err != nil {
		t.Fatalf("adopt: %v", err)
	}
	if err := a.Enable(); err != nil {
		t.Fatalf("enable: %v", err)
	}

	low := a.workingModes[0]
	low.AddCandidateBinding(refOn(0), recipe.CandidateBinding{
		"cpu.pe": restree.MustParsePath("sys0.cpu0.pe0"),
	})
	if err := a.ScheduleRequest(0, refOn(0), acc.LiveView()); err != nil {
		t.Fatalf("initial schedule_request: %v", err)
	}
	if err := a.ScheduleCommit(); err != nil {
		t.Fatalf("initial schedule_commit: %v", err)
	}

	round2, err := acc.GetView("round2")
	if err != nil {
		t.Fatalf("get_view: %v", err)
	}
	low.AddCandidateBinding(refOn(0), recipe.CandidateBinding{
		"cpu.pe": restree.MustParsePath("sys0.cpu0.pe1"),
	})
	if err := a.ScheduleRequest(0, refOn(0), round2); err != nil {
		t.Fatalf("second schedule_request: %v", err)
	}
	if a.SyncState() != SyncReconf {
		t.Fatalf("expected a reshuffled same-AWM binding to classify as RECONF, got %s", a.SyncState())
	}
}

func TestUnscheduleAndBlockedCommit(t *testing.T) {
	acc, view := newTestAccounter(t)
	a := New(ID{PID: 1, EXC: 0}, "demo", 5, "cpp", false, acc)
	if err := a.AdoptRecipe(testRecipe(t)); err != nil {
		t.Fatalf("adopt: %v", err)
	}
	if err := a.Enable(); err != nil {
		t.Fatalf("enable: %v", err)
	}

	low := a.workingModes[0]
	low.AddCandidateBinding(refOn(0), bindingOn(0))
	if err := a.ScheduleRequest(0, refOn(0), view); err != nil {
		t.Fatalf("schedule_request: %v", err)
	}
	if err := a.ScheduleCommit(); err != nil {
		t.Fatalf("schedule_commit: %v", err)
	}

	if err := a.Unschedule(); err != nil {
		t.Fatalf("unschedule: %v", err)
	}
	if a.State() != Sync || a.SyncState() != SyncBlocked {
		t.Fatalf("expected SYNC/BLOCKED, got %s/%s", a.State(), a.SyncState())
	}

	if err := a.ScheduleCommit(); err != nil {
		t.Fatalf("schedule_commit(blocked): %v", err)
	}
	if a.State() != Ready {
		t.Fatalf("expected READY after committing a block, got %s", a.State())
	}
	if a.CurrentAWM() != nil {
		t.Fatalf("expected current AWM cleared after blocked commit")
	}
}

func TestScheduleAbortReturnsToReady(t *testing.T) {
	acc, view := newTestAccounter(t)
	a := New(ID{PID: 1, EXC: 0}, "demo", 5, "cpp", false, acc)
	if err := a.AdoptRecipe(testRecipe(t)); err != nil {
		t.Fatalf("adopt: %v", err)
	}
	if err := a.Enable(); err != nil {
		t.Fatalf("enable: %v", err)
	}

	low := a.workingModes[0]
	low.AddCandidateBinding(refOn(0), bindingOn(0))
	if err := a.ScheduleRequest(0, refOn(0), view); err != nil {
		t.Fatalf("schedule_request: %v", err)
	}
	if err := a.ScheduleAbort(); err != nil {
		t.Fatalf("schedule_abort: %v", err)
	}
	if a.State() != Ready {
		t.Fatalf("expected READY after abort, got %s", a.State())
	}
	if a.NextAWM() != nil {
		t.Fatalf("expected next AWM cleared after abort")
	}
}

func TestConstraintsRebuildEnabledListAndInvalidation(t *testing.T) {
	acc, view := newTestAccounter(t)
	a := New(ID{PID: 1, EXC: 0}, "demo", 5, "cpp", false, acc)
	if err := a.AdoptRecipe(testRecipe(t)); err != nil {
		t.Fatalf("adopt: %v", err)
	}
	if err := a.Enable(); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if got := len(a.EnabledList()); got != 2 {
		t.Fatalf("expected both AWMs enabled initially, got %d", got)
	}
	if a.EnabledList()[0].ID != 0 {
		t.Fatalf("expected the lower-value AWM first, got id %d", a.EnabledList()[0].ID)
	}

	high := a.workingModes[1]
	high.AddCandidateBinding(refOn(1), bindingOn(1))
	if err := a.ScheduleRequest(1, refOn(1), view); err != nil {
		t.Fatalf("schedule_request: %v", err)
	}
	if err := a.ScheduleCommit(); err != nil {
		t.Fatalf("schedule_commit: %v", err)
	}

	a.SetUpperBound(0)
	if a.CurrentInvalid() != true {
		t.Fatalf("expected currentInvalid once the running AWM falls out of range")
	}
	if got := len(a.EnabledList()); got != 1 {
		t.Fatalf("expected only one AWM enabled after bounding, got %d", got)
	}

	a.ClearUpperBound()
	if a.CurrentInvalid() != false {
		t.Fatalf("expected currentInvalid cleared once the range re-admits the running AWM")
	}
}

func TestLowerBoundMonotonicity(t *testing.T) {
	acc, _ := newTestAccounter(t)
	a := New(ID{PID: 1, EXC: 0}, "demo", 5, "cpp", false, acc)
	if err := a.AdoptRecipe(testRecipe(t)); err != nil {
		t.Fatalf("adopt: %v", err)
	}

	a.SetLowerBound(1)
	for _, awm := range a.EnabledList() {
		if awm.ID < 1 {
			t.Fatalf("lower bound 1 must never enable AWM id %d", awm.ID)
		}
	}

	a.ClearLowerBound()
	if got := len(a.EnabledList()); got != 2 {
		t.Fatalf("clearing the lower bound must restore every previously enabled AWM, got %d", got)
	}
}

func TestOversizedAWMIsHidden(t *testing.T) {
	acc, _ := newTestAccounter(t) // two pe resources, 4 units each
	a := New(ID{PID: 1, EXC: 0}, "demo", 5, "cpp", false, acc)

	fits := recipe.NewAWM(0, "fits", 1, map[string]uint64{"cpu.pe": 8})
	oversized := recipe.NewAWM(1, "oversized", 2, map[string]uint64{"cpu.pe": 9})
	r := recipe.New("test", []*recipe.AWM{fits, oversized}, nil, 0, nil)
	if err := r.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := a.AdoptRecipe(r); err != nil {
		t.Fatalf("adopt: %v", err)
	}

	enabled := a.EnabledList()
	if len(enabled) != 1 || enabled[0].ID != 0 {
		t.Fatalf("expected only the AWM that fits platform totals to be enabled, got %v", enabled)
	}
	if !a.workingModes[1].Hidden {
		t.Fatalf("expected the oversized AWM to be hidden")
	}
}

func TestManagerRegisterAndQuery(t *testing.T) {
	acc, _ := newTestAccounter(t)
	m := NewManager(acc)

	if _, err := m.Register(ID{PID: 1, EXC: 0}, "a", 3, "cpp", false); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := m.Register(ID{PID: 2, EXC: 0}, "b", 3, "cpp", false); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := m.Register(ID{PID: 1, EXC: 0}, "a", 3, "cpp", false); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}

	if got := len(m.All()); got != 2 {
		t.Fatalf("expected 2 registered applications, got %d", got)
	}
	if got := m.CountAtPriority(3); got != 2 {
		t.Fatalf("expected 2 applications at priority 3, got %d", got)
	}
	if got := m.Priorities(); len(got) != 1 || got[0] != 3 {
		t.Fatalf("expected priorities [3], got %v", got)
	}

	m.Unregister(ID{PID: 1, EXC: 0})
	if _, ok := m.Get(ID{PID: 1, EXC: 0}); ok {
		t.Fatalf("expected app 1 to be gone after unregister")
	}
}

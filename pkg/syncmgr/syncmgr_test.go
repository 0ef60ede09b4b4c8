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

package syncmgr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bbqrtrm/rtrm/pkg/accounter"
	"github.com/bbqrtrm/rtrm/pkg/app"
	"github.com/bbqrtrm/rtrm/pkg/platform/mock"
	"github.com/bbqrtrm/rtrm/pkg/recipe"
	"github.com/bbqrtrm/rtrm/pkg/restree"
)

// fakeProxy is a scriptable ApplicationProxy test double.
type fakeProxy struct {
	mu        sync.Mutex
	failApp   app.ID
	failPhase string
	blockFor  time.Duration
}

func (f *fakeProxy) shouldFail(a *app.Application, phase string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failApp == a.ID() && f.failPhase == phase
}

func (f *fakeProxy) PreChange(ctx context.Context, a *app.Application, next *recipe.AWM) (int, error) {
	if f.shouldFail(a, "pre-change") {
		return 0, errUnavailable
	}
	return 5, nil
}

func (f *fakeProxy) SyncChange(ctx context.Context, a *app.Application) error {
	if f.blockFor > 0 {
		select {
		case <-time.After(f.blockFor):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.shouldFail(a, "sync-change") {
		return errUnavailable
	}
	return nil
}

func (f *fakeProxy) DoChange(ctx context.Context, a *app.Application) error {
	return nil
}

func (f *fakeProxy) PostChange(ctx context.Context, a *app.Application) error {
	if f.shouldFail(a, "post-change") {
		return errUnavailable
	}
	return nil
}

var errUnavailable = &testError{"unavailable"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func newFixture(t *testing.T) (*accounter.Accounter, *app.Manager) {
	t.Helper()
	tree := restree.NewTree()
	if _, err := tree.Register(restree.MustParsePath("sys0.cpu0.pe0"), "pe", 100); err != nil {
		t.Fatalf("register: %v", err)
	}
	acc := accounter.New(tree)
	return acc, app.NewManager(acc)
}

func scheduleStarting(t *testing.T, acc *accounter.Accounter, apps *app.Manager, id app.ID, amount uint64) *app.Application {
	t.Helper()
	a, err := apps.Register(id, "demo", 5, "cpp", false)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	awm := recipe.NewAWM(0, "awm0", 1, map[string]uint64{"cpu.pe": amount})
	r := recipe.New("test", []*recipe.AWM{awm}, nil, 0, nil)
	if err := r.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := a.AdoptRecipe(r); err != nil {
		t.Fatalf("adopt: %v", err)
	}
	if err := a.Enable(); err != nil {
		t.Fatalf("enable: %v", err)
	}

	ref := recipe.BindingRef{Domain: restree.TypeCPU, ID: 0}
	enabled := a.EnabledList()[0]
	enabled.AddCandidateBinding(ref, recipe.CandidateBinding{"cpu.pe": restree.MustParsePath("sys0.cpu0.pe0")})
	if err := a.ScheduleRequest(enabled.ID, ref, acc.LiveView()); err != nil {
		t.Fatalf("schedule request: %v", err)
	}
	return a
}

func TestRunCommitsHappyPath(t *testing.T) {
	acc, apps := newFixture(t)
	a := scheduleStarting(t, acc, apps, app.ID{PID: 1, EXC: 0}, 50)

	plat := mock.New()
	proxy := &fakeProxy{}
	mgr := New(acc, plat, proxy, time.Second, nil)

	survivors, err := mgr.Run(context.Background(), apps.All())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(survivors) != 1 {
		t.Fatalf("expected 1 survivor, got %d", len(survivors))
	}
	if a.State() != app.Running {
		t.Fatalf("expected RUNNING, got %s", a.State())
	}
	if !plat.IsSetup(a.ID().ResourceID()) {
		t.Fatalf("expected platform Setup to have been called")
	}
	if _, ok := plat.Mapped(a.ID().ResourceID()); !ok {
		t.Fatalf("expected platform MapResources to have been called")
	}
}

func TestRunDisablesOnPreChangeFailure(t *testing.T) {
	acc, apps := newFixture(t)
	id := app.ID{PID: 2, EXC: 0}
	a := scheduleStarting(t, acc, apps, id, 50)

	plat := mock.New()
	proxy := &fakeProxy{failApp: id, failPhase: "pre-change"}
	mgr := New(acc, plat, proxy, time.Second, nil)

	survivors, err := mgr.Run(context.Background(), apps.All())
	if err == nil {
		t.Fatalf("expected an aggregate error when an application fails pre-change")
	}
	if len(survivors) != 0 {
		t.Fatalf("expected no survivors, got %d", len(survivors))
	}
	if a.State() != app.Disabled {
		t.Fatalf("expected DISABLED after a pre-change failure, got %s", a.State())
	}
	if mgr.SyncMissCounter.Load() != 1 {
		t.Fatalf("expected a pre-change non-reply to count as a sync miss, got %d", mgr.SyncMissCounter.Load())
	}
}

func TestRunCountsSyncChangeTimeoutAsMiss(t *testing.T) {
	acc, apps := newFixture(t)
	id := app.ID{PID: 3, EXC: 0}
	a := scheduleStarting(t, acc, apps, id, 50)

	plat := mock.New()
	proxy := &fakeProxy{blockFor: 50 * time.Millisecond}
	mgr := New(acc, plat, proxy, 5*time.Millisecond, nil)

	if _, err := mgr.Run(context.Background(), apps.All()); err == nil {
		t.Fatalf("expected an aggregate error on sync-change timeout")
	}
	if mgr.SyncMissCounter.Load() != 1 {
		t.Fatalf("expected SyncMissCounter to read 1, got %d", mgr.SyncMissCounter.Load())
	}
	if a.State() != app.Disabled {
		t.Fatalf("expected DISABLED after a sync-change timeout, got %s", a.State())
	}
}

func TestRunAbortsOnPostChangeFailure(t *testing.T) {
	acc, apps := newFixture(t)
	id := app.ID{PID: 4, EXC: 0}
	a := scheduleStarting(t, acc, apps, id, 50)

	plat := mock.New()
	proxy := &fakeProxy{failApp: id, failPhase: "post-change"}
	mgr := New(acc, plat, proxy, time.Second, nil)

	if _, err := mgr.Run(context.Background(), apps.All()); err == nil {
		t.Fatalf("expected an aggregate error on post-change failure")
	}
	if a.State() != app.Ready {
		t.Fatalf("expected a failed post-change to abort back to READY, got %s", a.State())
	}
}

func TestRunPartialCommitOnPlatformMapFailure(t *testing.T) {
	acc, apps := newFixture(t)
	good := scheduleStarting(t, acc, apps, app.ID{PID: 6, EXC: 0}, 30)
	badID := app.ID{PID: 7, EXC: 0}
	bad := scheduleStarting(t, acc, apps, badID, 30)

	plat := mock.New()
	plat.FailApp = badID.ResourceID()
	proxy := &fakeProxy{}
	mgr := New(acc, plat, proxy, time.Second, nil)

	survivors, err := mgr.Run(context.Background(), apps.All())
	if err == nil {
		t.Fatalf("expected an aggregate error when one application fails platform-map")
	}
	if len(survivors) != 1 || survivors[0].ID() != good.ID() {
		t.Fatalf("expected only the healthy application to survive, got %v", survivors)
	}
	if good.State() != app.Running {
		t.Fatalf("expected the healthy application RUNNING, got %s", good.State())
	}
	if bad.State() != app.Disabled {
		t.Fatalf("expected the failing application DISABLED, got %s", bad.State())
	}

	pe0 := restree.MustParsePath("sys0.cpu0.pe0")
	live := acc.LiveView()
	if got := acc.Used(pe0, live); got != 30 {
		t.Fatalf("expected the live view to carry only the survivor's allocation, got used=%d", got)
	}
}

func TestRunSkipsApplicationsNotInSync(t *testing.T) {
	acc, apps := newFixture(t)
	a, err := apps.Register(app.ID{PID: 5, EXC: 0}, "idle", 5, "cpp", false)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := a.Enable(); err != nil {
		t.Fatalf("enable: %v", err)
	}

	plat := mock.New()
	proxy := &fakeProxy{}
	mgr := New(acc, plat, proxy, time.Second, nil)

	survivors, err := mgr.Run(context.Background(), apps.All())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(survivors) != 0 {
		t.Fatalf("expected no survivors for a READY-only fixture, got %d", len(survivors))
	}
}

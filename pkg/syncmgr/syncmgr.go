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

// Package syncmgr implements the four-phase synchronization protocol that
// atomically promotes a freshly scheduled candidate view to the live view:
// pre-change, a platform map step, sync-change, do-change and post-change,
// run as a strict barrier across every synchronizing application before
// the resource accounter is asked to commit.
package syncmgr

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/bbqrtrm/rtrm/pkg/accounter"
	"github.com/bbqrtrm/rtrm/pkg/app"
	logger "github.com/bbqrtrm/rtrm/pkg/log"
	"github.com/bbqrtrm/rtrm/pkg/metrics"
	"github.com/bbqrtrm/rtrm/pkg/platform"
	"github.com/bbqrtrm/rtrm/pkg/restree"
)

var log = logger.Get("syncmgr")

// Manager drives the synchronization protocol for the set of applications
// currently in SYNC, coordinating the accounter's sync session, the
// platform proxy and the application proxy.
type Manager struct {
	acc      *accounter.Accounter
	platform platform.Proxy
	proxy    ApplicationProxy
	timeout  time.Duration
	metrics  *metrics.Collectors

	// SyncMissCounter counts applications dropped because their pre-change
	// or sync-change call failed or timed out, read lock-free so
	// callers can sample it without taking any of the manager's own state.
	SyncMissCounter *atomic.Uint64

	setupOnce sync.Map // restree.AppID -> struct{}, Setup called once per app
}

// New creates a synchronization manager. timeout bounds every phase of the
// protocol for a single application.
func New(acc *accounter.Accounter, plat platform.Proxy, proxy ApplicationProxy, timeout time.Duration, mtr *metrics.Collectors) *Manager {
	return &Manager{
		acc:             acc,
		platform:        plat,
		proxy:           proxy,
		timeout:         timeout,
		metrics:         mtr,
		SyncMissCounter: atomic.NewUint64(0),
	}
}

// partitionBySyncState groups apps by their SyncState, purely for logging;
// every group still goes through the same barrier of
// phases together.
func partitionBySyncState(apps []*app.Application) map[app.SyncState][]*app.Application {
	groups := map[app.SyncState][]*app.Application{}
	for _, a := range apps {
		groups[a.SyncState()] = append(groups[a.SyncState()], a)
	}
	return groups
}

// outcome tracks one application's fate across the phase barrier.
type outcome struct {
	a     *app.Application
	alive bool
}

// Run drives the full protocol for every application currently in SYNC, on
// top of the live accounter view. It returns the (possibly partial, see
// the aggregated error) set of applications that made it through
// acquisition, and any per-application failures accumulated along the way.
func (m *Manager) Run(ctx context.Context, apps []*app.Application) ([]*app.Application, error) {
	syncing := make([]*app.Application, 0, len(apps))
	for _, a := range apps {
		if a.State() == app.Sync {
			syncing = append(syncing, a)
		}
	}
	if len(syncing) == 0 {
		return nil, nil
	}

	groups := partitionBySyncState(syncing)
	for state, group := range groups {
		log.Info("sync round: %d application(s) in %s", len(group), state)
	}

	session, err := m.acc.SyncStart("sync")
	if err != nil {
		return nil, errors.Wrap(err, "syncmgr: sync_start")
	}

	outcomes := make([]*outcome, len(syncing))
	for i, a := range syncing {
		outcomes[i] = &outcome{a: a, alive: true}
	}

	var merr *multierror.Error

	// A dropped application must not leave its seeded bookings behind in
	// the session view, or a later commit would publish an allocation the
	// application never reconfigured onto.
	drop := func(o *outcome) {
		_ = o.a.Disable()
		_ = m.acc.ReleaseResources(o.a.ID().ResourceID(), session)
	}
	// miss is drop plus sync-miss accounting, for the RPC phases where a
	// non-reply within the deadline counts against the application. A
	// platform-map failure drops without a miss: no RPC was outstanding.
	miss := func(phaseName string) func(*outcome) {
		return func(o *outcome) {
			m.SyncMissCounter.Inc()
			if m.metrics != nil {
				m.metrics.SyncMisses.WithLabelValues(phaseName).Inc()
			}
			drop(o)
		}
	}

	m.phase("pre-change", outcomes, func(ctx context.Context, o *outcome) error {
		next := o.a.NextAWM()
		if next == nil {
			return errors.Errorf("%s: no next AWM recorded entering pre-change", o.a.ID())
		}
		_, err := m.proxy.PreChange(ctx, o.a, next)
		return err
	}, miss("pre-change"))

	m.phase("platform-map", outcomes, func(ctx context.Context, o *outcome) error {
		return m.mapPlatform(o.a)
	}, drop)

	m.phase("sync-change", outcomes, func(ctx context.Context, o *outcome) error {
		return m.proxy.SyncChange(ctx, o.a)
	}, miss("sync-change"))

	m.phase("do-change", outcomes, func(ctx context.Context, o *outcome) error {
		return m.proxy.DoChange(ctx, o.a)
	}, nil)

	m.phase("post-change", outcomes, func(ctx context.Context, o *outcome) error {
		return m.postChange(ctx, session, o.a)
	}, func(o *outcome) {
		_ = o.a.ScheduleAbort()
		_ = m.acc.ReleaseResources(o.a.ID().ResourceID(), session)
	})

	succeeded := 0
	for _, o := range outcomes {
		if o.alive {
			succeeded++
		} else {
			merr = multierror.Append(merr, errors.Errorf("%s: dropped out of synchronization", o.a.ID()))
		}
	}

	if succeeded > 0 {
		if err := m.acc.SyncCommit(session); err != nil {
			merr = multierror.Append(merr, errors.Wrap(err, "syncmgr: sync_commit"))
		}
	} else {
		if err := m.acc.SyncAbort(session); err != nil {
			merr = multierror.Append(merr, errors.Wrap(err, "syncmgr: sync_abort"))
		}
	}

	var survivors []*app.Application
	for _, o := range outcomes {
		if o.alive {
			survivors = append(survivors, o.a)
		}
	}
	return survivors, merr.ErrorOrNil()
}

// phase runs fn for every still-alive outcome in parallel, bounded by the
// manager's timeout, then applies onFail (if any) to every outcome that
// errored or timed out and marks it dead. No outcome proceeds to the next
// phase call until every other outcome's attempt at this phase has
// returned or timed out, matching the protocol's strict phase ordering.
func (m *Manager) phase(name string, outcomes []*outcome, fn func(context.Context, *outcome) error, onFail func(*outcome)) {
	start := time.Now()
	var wg sync.WaitGroup
	for _, o := range outcomes {
		if !o.alive {
			continue
		}
		wg.Add(1)
		go func(o *outcome) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
			defer cancel()
			if err := fn(ctx, o); err != nil {
				log.Warn("%s: %s failed: %v", o.a.ID(), name, err)
				o.alive = false
				if onFail != nil {
					onFail(o)
				}
			}
		}(o)
	}
	wg.Wait()
	if m.metrics != nil {
		m.metrics.SyncPhaseDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
}

// mapPlatform invokes the platform proxy's per-application setup (once)
// and maps the next AWM's committed binding.
func (m *Manager) mapPlatform(a *app.Application) error {
	next := a.NextAWM()
	if next == nil {
		return errors.Errorf("%s: no next AWM recorded entering platform-map", a.ID())
	}
	appID := a.ID().ResourceID()

	if _, done := m.setupOnce.LoadOrStore(appID, struct{}{}); !done {
		if err := m.platform.Setup(appID); err != nil {
			return errors.Wrap(err, "platform setup")
		}
	}

	assign, err := assignmentFromResolved(next.CommittedBinding)
	if err != nil {
		return err
	}
	return m.platform.MapResources(appID, assign, false)
}

// postChange re-books the application's next AWM into the sync session, or
// (for a blocked application) returns everything it held so ScheduleCommit
// can drive it back to READY with nothing left in the promoted view.
func (m *Manager) postChange(ctx context.Context, session restree.ViewToken, a *app.Application) error {
	if err := m.proxy.PostChange(ctx, a); err != nil {
		return err
	}

	if a.SyncState() == app.SyncBlocked {
		_ = m.acc.ReleaseResources(a.ID().ResourceID(), session)
	} else {
		next := a.NextAWM()
		if next == nil {
			return errors.Errorf("%s: no next AWM recorded entering post-change", a.ID())
		}
		assign, err := assignmentFromResolved(next.CommittedBinding)
		if err != nil {
			return err
		}
		if _, err := m.acc.SyncAcquireResources(session, a.ID().ResourceID(), assign); err != nil {
			return errors.Wrap(err, "sync_acquire_resources")
		}
	}
	return a.ScheduleCommit()
}

// assignmentFromResolved rebuilds an AssignmentMap from a committed
// Resolved binding, so the platform proxy and the sync session can be
// driven off the same concrete allocation the scheduler already booked.
func assignmentFromResolved(resolved accounter.Resolved) (accounter.AssignmentMap, error) {
	out := make(accounter.AssignmentMap, len(resolved))
	for pathStr, amount := range resolved {
		concrete, err := restree.ParsePath(pathStr)
		if err != nil {
			return nil, errors.Wrapf(err, "syncmgr: invalid committed path %q", pathStr)
		}
		out[pathStr] = accounter.Assignment{Amount: amount, Bindings: []restree.Path{concrete}}
	}
	return out, nil
}

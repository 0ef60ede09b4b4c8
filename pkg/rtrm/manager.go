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

// Package rtrm is the process-wide context that replaces the global
// singletons the design notes flag (the application manager, the resource
// accounter, the synchronization manager): one Manager owns all of them,
// is constructed once configuration has been parsed, and drives the
// scheduling round depicted in spec.md §2:
//
//	trigger -> policy.Schedule(system_view) -> contribution indices
//	        -> accounter.BookResources -> application.ScheduleRequest
//	        -> synchronization_manager.SyncSchedule -> accounter.SetView
//
// mirroring the shape (if not the scale) of the teacher's own
// pkg/cri/resource-manager.NewResourceManager/Start/Stop.
package rtrm

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bbqrtrm/rtrm/pkg/accounter"
	"github.com/bbqrtrm/rtrm/pkg/app"
	"github.com/bbqrtrm/rtrm/pkg/config"
	logger "github.com/bbqrtrm/rtrm/pkg/log"
	"github.com/bbqrtrm/rtrm/pkg/metrics"
	"github.com/bbqrtrm/rtrm/pkg/platform"
	"github.com/bbqrtrm/rtrm/pkg/platform/linux"
	"github.com/bbqrtrm/rtrm/pkg/platform/mock"
	"github.com/bbqrtrm/rtrm/pkg/recipe/loader"
	"github.com/bbqrtrm/rtrm/pkg/restree"
	"github.com/bbqrtrm/rtrm/pkg/rpcproxy"
	"github.com/bbqrtrm/rtrm/pkg/rpcproxy/transport"
	"github.com/bbqrtrm/rtrm/pkg/sched"
	"github.com/bbqrtrm/rtrm/pkg/sched/contrib"
	_ "github.com/bbqrtrm/rtrm/pkg/sched/yams" // registers the "yams" policy
	"github.com/bbqrtrm/rtrm/pkg/syncmgr"
)

var log = logger.Get("rtrm")

// RecipeDir is where the reference YAML recipe loader looks for
// "<name>.yaml" files.
const RecipeDir = "/etc/rtrm/recipes"

// Manager wires the four core subsystems, the RPC dispatch layer and the
// platform proxy into one runnable resource manager.
type Manager struct {
	cfg *config.Config

	tree     *restree.Tree
	acc      *accounter.Accounter
	apps     *app.Manager
	platform platform.Proxy

	contribMgr *sched.Manager
	policy     sched.Policy
	syncMgr    *syncmgr.Manager

	sessions *rpcproxy.SessionTable
	conns    *rpcproxy.ConnectionTable
	bridge   *bridge

	metrics  *metrics.Collectors
	registry prometheus.Gatherer

	listener net.Listener
	wake     chan struct{}
	stop     chan struct{}
}

// New builds a Manager from cfg: it loads platform topology into a fresh
// resource tree, constructs the accounter and application manager over
// it, registers the configured contributions and policy, and prepares
// (without yet listening on) the RPC dispatch layer.
func New(cfg *config.Config) (*Manager, error) {
	cfg.ApplyLogLevel()

	tree := restree.NewTree()

	plat, err := newPlatformProxy(cfg.PlatformProxy)
	if err != nil {
		return nil, err
	}
	if err := plat.LoadPlatformData(tree); err != nil {
		return nil, errors.Wrap(err, "rtrm: loading platform data")
	}

	acc := accounter.New(tree)
	apps := app.NewManager(acc)

	mtr := metrics.NewCollectors()
	reg := metrics.NewRegistry(mtr)

	contributions := buildContributions(cfg)
	contribMgr, err := sched.NewManager(contributions, cfg.Weights)
	if err != nil {
		return nil, errors.Wrap(err, "rtrm: building contribution manager")
	}
	contribMgr.SetCollectors(mtr)
	policy, err := sched.New(cfg.Policy, contribMgr)
	if err != nil {
		return nil, errors.Wrapf(err, "rtrm: loading policy %q", cfg.Policy)
	}

	sessions := rpcproxy.NewSessionTable()
	conns := rpcproxy.NewConnectionTable()
	rl := loader.New(RecipeDir)

	m := &Manager{
		cfg:        cfg,
		tree:       tree,
		acc:        acc,
		apps:       apps,
		platform:   plat,
		contribMgr: contribMgr,
		policy:     policy,
		sessions:   sessions,
		conns:      conns,
		metrics:    mtr,
		registry:   reg,
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
	m.bridge = newBridge(apps, acc, plat, rl, sessions, conns, m, cfg.SyncTimeout)
	m.syncMgr = syncmgr.New(acc, plat, m.bridge, cfg.SyncTimeout, mtr)
	return m, nil
}

func newPlatformProxy(name string) (platform.Proxy, error) {
	switch name {
	case "linux":
		return linux.New(""), nil
	case "mock", "":
		return mock.New(), nil
	default:
		return nil, errors.Errorf("rtrm: unknown platform proxy %q", name)
	}
}

func buildContributions(cfg *config.Config) []contrib.Contribution {
	params := map[restree.Type]contrib.Params{}
	for name, c := range cfg.Congestion {
		params[restree.Type(name)] = contrib.Params{
			LinearThreshold: c.LinearThreshold,
			ExpThreshold:    c.ExpThreshold,
			ExpBase:         c.ExpBase,
		}
	}
	saturation := map[restree.Type]float64{}
	for name, pct := range cfg.FairnessSaturation {
		saturation[restree.Type(name)] = pct
	}
	return []contrib.Contribution{
		contrib.NewValue(),
		contrib.NewReconfig(),
		contrib.NewFairness(cfg.FairnessBase, saturation),
		contrib.NewMigration(),
		contrib.NewCongestion(params),
	}
}

// Registry exposes the Prometheus gatherer backing /metrics.
func (m *Manager) Registry() prometheus.Gatherer { return m.registry }

// RequestRound asks the next scheduling round to start as soon as the
// current one (if any) finishes, without blocking the caller; a full
// channel means a round is already pending, which is fine; EXC_SCHEDULE
// is a hint, not a guarantee of an immediate round.
func (m *Manager) RequestRound() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Listen opens the RPC socket named by cfg.RPCSocket. Call before Start.
func (m *Manager) Listen() error {
	ln, err := net.Listen("unix", m.cfg.RPCSocket)
	if err != nil {
		return errors.Wrapf(err, "rtrm: listening on %q", m.cfg.RPCSocket)
	}
	m.listener = ln
	return nil
}

// Start runs the accept loop and the scheduling round loop until ctx is
// done or Stop is called. It blocks; callers typically run it in its own
// goroutine.
func (m *Manager) Start(ctx context.Context) error {
	if m.listener != nil {
		go m.acceptLoop(ctx)
	}

	ticker := time.NewTicker(m.cfg.SyncTimeout * 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stop:
			return nil
		case <-ticker.C:
		case <-m.wake:
		}
		if err := m.RunRound(ctx); err != nil {
			log.Warn("scheduling round: %v", err)
		}
	}
}

// Stop signals Start's loop to return.
func (m *Manager) Stop() {
	close(m.stop)
	if m.listener != nil {
		_ = m.listener.Close()
	}
}

func (m *Manager) acceptLoop(ctx context.Context) {
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("rpcproxy: accept failed: %v", err)
			continue
		}
		tr := transport.New(conn)
		handler := &connHandler{bridge: m.bridge, tr: tr}
		disp := rpcproxy.NewDispatcher(tr, m.sessions, handler)
		go func() {
			if err := disp.Run(ctx); err != nil {
				log.Debug("rpcproxy: dispatcher exiting: %v", err)
			}
		}()
	}
}

// RunRound executes exactly one scheduling round: a fresh, empty
// candidate view is built and the active policy re-optimizes the whole
// schedulable population (READY, RUNNING and blocked applications alike)
// into it, re-booking every application it dispatches. The view starts
// empty precisely because everyone is rescheduled: its availability
// reflects only what this round has granted, never stale holdings from
// the previous one. A running application whose winning candidate is its
// current AWM and binding produces no transition; one that loses its
// capacity to a better-scoring candidate is caught per-application at
// sync acquisition. The synchronization manager then drives every
// application the policy put into SYNC through the four-phase protocol.
// The candidate view itself is always released at the end of the round;
// anything it resolved that survived synchronization lives on in the
// sync session's own view, which by then has already been promoted to
// live.
func (m *Manager) RunRound(ctx context.Context) error {
	start := time.Now()

	// Poll paired, running applications for fresh runtime telemetry; an
	// unreachable application just schedules on its last known profile.
	for _, a := range m.apps.ByState(app.Running) {
		cctx, cancel := context.WithTimeout(ctx, m.cfg.SyncTimeout)
		if err := m.bridge.RefreshProfile(cctx, a); err != nil {
			log.Debug("%s: runtime profile refresh skipped: %v", a.ID(), err)
		}
		cancel()
	}

	view, err := m.acc.GetView("schedule")
	if err != nil {
		return errors.Wrap(err, "rtrm: opening a scheduling view")
	}
	defer func() {
		if err := m.acc.PutView(view); err != nil {
			log.Debug("rtrm: releasing scheduling view: %v", err)
		}
		if m.metrics != nil {
			m.metrics.OpenViews.Set(float64(m.acc.OpenViews()))
		}
	}()

	if err := m.contribMgr.PrepareRound(m.apps, m.acc, view); err != nil {
		return errors.Wrap(err, "rtrm: preparing round")
	}

	sv := sched.NewSystemView(m.apps, m.acc, view)
	if err := m.policy.Schedule(sv); err != nil {
		return errors.Wrapf(err, "rtrm: policy %q", m.policy.Name())
	}

	syncing := m.apps.ByState(app.Sync)
	if m.metrics != nil {
		defer m.metrics.ScheduleRoundDuration.Observe(time.Since(start).Seconds())
	}
	if len(syncing) == 0 {
		return nil
	}

	_, err = m.syncMgr.Run(ctx, syncing)
	return err
}

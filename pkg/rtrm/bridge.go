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

package rtrm

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/bbqrtrm/rtrm/pkg/accounter"
	"github.com/bbqrtrm/rtrm/pkg/app"
	"github.com/bbqrtrm/rtrm/pkg/platform"
	"github.com/bbqrtrm/rtrm/pkg/recipe"
	"github.com/bbqrtrm/rtrm/pkg/rpcproxy"
)

// recipeLoader is the subset of *loader.Loader the bridge needs, named
// here so tests can substitute a fixture loader without touching disk.
type recipeLoader interface {
	Load(appHandle, name string, weak bool) (*recipe.Recipe, error)
}

// rounder is the subset of *Manager the bridge needs back, so an
// EXC_SCHEDULE request can nudge the round loop without the bridge
// importing the whole Manager type recursively.
type rounder interface {
	RequestRound()
}

// bridge adapts the application manager, the recipe loader and the
// resource accounter onto rpcproxy.RequestHandler (fan-out from incoming
// requests) and syncmgr.ApplicationProxy (the four-phase protocol's own
// outbound calls), so pkg/rpcproxy and pkg/syncmgr never need to import
// each other or pkg/app's concrete registration/constraint API directly.
type bridge struct {
	apps     *app.Manager
	acc      *accounter.Accounter
	platform platform.Proxy
	loader   recipeLoader
	sessions *rpcproxy.SessionTable
	conns    *rpcproxy.ConnectionTable
	round    rounder
	timeout  time.Duration
}

func newBridge(apps *app.Manager, acc *accounter.Accounter, plat platform.Proxy, rl recipeLoader,
	sessions *rpcproxy.SessionTable, conns *rpcproxy.ConnectionTable, round rounder, timeout time.Duration) *bridge {
	return &bridge{
		apps: apps, acc: acc, platform: plat, loader: rl,
		sessions: sessions, conns: conns, round: round, timeout: timeout,
	}
}

// --- rpcproxy.RequestHandler -------------------------------------------------

// Pair records that an application pid is live; the connection table
// entry itself is made by connHandler, which is the one place that still
// holds the Transport this request arrived on.
func (b *bridge) Pair(appID app.ID) error {
	log.Info("%s: paired", appID)
	return nil
}

// Exit tears an application down entirely: FINISHED, resources released
// from the live view, platform state disposed of, and the registration
// itself dropped.
func (b *bridge) Exit(appID app.ID) error {
	return b.terminate(appID)
}

// Unregister is, for this reference implementation, the same teardown as
// APP_EXIT: the wire protocol keeps them distinct (one EXC at a time vs.
// the whole paired process), but both resolve to "this application is
// gone" against a single-EXC-per-application model.
func (b *bridge) Unregister(appID app.ID) error {
	return b.terminate(appID)
}

func (b *bridge) terminate(appID app.ID) error {
	a, ok := b.apps.Get(appID)
	if !ok {
		return nil
	}
	_ = a.Terminate()
	_ = b.acc.ReleaseResources(appID.ResourceID(), b.acc.LiveView())
	_ = b.platform.Release(appID.ResourceID())
	b.conns.Drop(appID.PID)
	b.apps.Unregister(appID)
	return nil
}

// Register loads the named recipe and registers a new, DISABLED
// application adopting it, at the recipe's own baseline priority.
func (b *bridge) Register(appID app.ID, name, recipePath, language string) error {
	r, err := b.loader.Load(appID.String(), recipePath, false)
	if err != nil {
		return errors.Wrapf(err, "rtrm: %s register", appID)
	}
	a, err := b.apps.Register(appID, name, r.Priority, language, false)
	if err != nil {
		return err
	}
	return a.AdoptRecipe(r)
}

// Start enables an application, making it eligible for the next
// scheduling round.
func (b *bridge) Start(appID app.ID) error {
	a, ok := b.apps.Get(appID)
	if !ok {
		return errors.Errorf("rtrm: %s: not registered", appID)
	}
	return a.Enable()
}

// Stop disables an application, dropping its working modes. A paired
// application is first told to stop executing (BBQ_STOP_EXECUTION), best
// effort: an unreachable application gets disabled regardless.
func (b *bridge) Stop(appID app.ID) error {
	a, ok := b.apps.Get(appID)
	if !ok {
		return errors.Errorf("rtrm: %s: not registered", appID)
	}
	if conn, ok := b.conns.Lookup(appID.PID); ok {
		err := conn.Transport.Send(rpcproxy.Message{
			Type: rpcproxy.BbqStopExecution, AppPID: appID.PID, EXC: appID.EXC,
			TimeoutMs: int(b.timeout.Milliseconds()),
		})
		if err != nil {
			log.Warn("%s: stop-execution notify failed: %v", appID, err)
		}
	}
	return a.Disable()
}

// Schedule is EXC_SCHEDULE: an application-initiated hint that it would
// like to be (re)considered sooner than the next periodic round.
func (b *bridge) Schedule(appID app.ID) error {
	if _, ok := b.apps.Get(appID); !ok {
		return errors.Errorf("rtrm: %s: not registered", appID)
	}
	b.round.RequestRound()
	return nil
}

// SetConstraint installs one per-path resource bound.
func (b *bridge) SetConstraint(appID app.ID, path string, lower, upper uint64) error {
	a, ok := b.apps.Get(appID)
	if !ok {
		return errors.Errorf("rtrm: %s: not registered", appID)
	}
	a.SetResourceBound(path, recipe.ResourceBound{Lower: lower, Upper: upper})
	return nil
}

// ClearConstraints drops every constraint the application has set.
func (b *bridge) ClearConstraints(appID app.ID) error {
	a, ok := b.apps.Get(appID)
	if !ok {
		return errors.Errorf("rtrm: %s: not registered", appID)
	}
	a.ClearAllConstraints()
	return nil
}

// RuntimeNotify records the EXC_RTNOTIFY payload for the value
// contribution's next round.
func (b *bridge) RuntimeNotify(appID app.ID, gap, cpuUsage, cycleTimeMs int) error {
	a, ok := b.apps.Get(appID)
	if !ok {
		return errors.Errorf("rtrm: %s: not registered", appID)
	}
	a.SetRuntimeProfile(gap, cpuUsage, cycleTimeMs)
	return nil
}

// --- syncmgr.ApplicationProxy ------------------------------------------------

// PreChange sends BBQ_SYNCP_PRECHANGE carrying only the next AWM's id; the
// AWM's resolved resource quantities are not sent to the application.
func (b *bridge) PreChange(ctx context.Context, a *app.Application, next *recipe.AWM) (int, error) {
	resp, err := b.call(ctx, a, rpcproxy.SyncPreChange, rpcproxy.Message{AWMID: next.ID})
	if err != nil {
		return 0, err
	}
	return resp.SyncLatencyEstimate, nil
}

func (b *bridge) SyncChange(ctx context.Context, a *app.Application) error {
	_, err := b.call(ctx, a, rpcproxy.SyncChange, rpcproxy.Message{})
	return err
}

// DoChange is fire-and-forget per spec.md §4.5: it does not wait for
// BBQ_SYNCP_DOCHANGE_RESP.
func (b *bridge) DoChange(ctx context.Context, a *app.Application) error {
	conn, ok := b.conns.Lookup(a.ID().PID)
	if !ok {
		return errors.Errorf("rtrm: %s: no connection", a.ID())
	}
	return conn.Transport.Send(rpcproxy.Message{
		Type: rpcproxy.SyncDoChange, AppPID: a.ID().PID, EXC: a.ID().EXC,
	})
}

func (b *bridge) PostChange(ctx context.Context, a *app.Application) error {
	_, err := b.call(ctx, a, rpcproxy.SyncPostChange, rpcproxy.Message{})
	return err
}

// RefreshProfile polls a paired application for its runtime profile
// (BBQ_GET_PROFILE) and records the reply, giving the value contribution
// fresh telemetry even when the application never volunteers an
// EXC_RTNOTIFY of its own.
func (b *bridge) RefreshProfile(ctx context.Context, a *app.Application) error {
	resp, err := b.call(ctx, a, rpcproxy.BbqGetProfile, rpcproxy.Message{})
	if err != nil {
		return err
	}
	a.SetRuntimeProfile(resp.GoalGap, resp.CPUUsage, resp.CycleTimeMs)
	return nil
}

// call opens a command session, sends msg to a's connection and blocks
// for the matching response or ctx's deadline, whichever comes first.
func (b *bridge) call(ctx context.Context, a *app.Application, msgType rpcproxy.MessageType, msg rpcproxy.Message) (rpcproxy.Message, error) {
	conn, ok := b.conns.Lookup(a.ID().PID)
	if !ok {
		return rpcproxy.Message{}, errors.Errorf("rtrm: %s: no connection", a.ID())
	}

	token, reply := b.sessions.Open(a.ID())
	msg.Type = msgType
	msg.Token = token
	msg.AppPID = a.ID().PID
	msg.EXC = a.ID().EXC

	if err := conn.Transport.Send(msg); err != nil {
		b.sessions.Release(token)
		return rpcproxy.Message{}, errors.Wrapf(err, "rtrm: %s: sending %s", a.ID(), msgType)
	}

	select {
	case resp := <-reply:
		if resp.ErrorMessage != "" {
			return rpcproxy.Message{}, errors.Errorf("rtrm: %s: %s: %s", a.ID(), msgType, resp.ErrorMessage)
		}
		return resp, nil
	case <-ctx.Done():
		b.sessions.Release(token)
		return rpcproxy.Message{}, ctx.Err()
	}
}

// connHandler is a per-connection RequestHandler: it delegates everything
// to the shared bridge except Pair, which is the one request that needs
// to know which Transport it arrived on in order to populate the
// connection table.
type connHandler struct {
	*bridge
	tr rpcproxy.Transport
}

func (h *connHandler) Pair(appID app.ID) error {
	h.conns.Pair(appID, h.tr)
	return h.bridge.Pair(appID)
}

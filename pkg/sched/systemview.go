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

package sched

import (
	"github.com/bbqrtrm/rtrm/pkg/app"
	"github.com/bbqrtrm/rtrm/pkg/restree"
)

// SystemView is the read-only facade a policy receives: iterators over
// applications grouped by priority and scheduling state, plus read-only
// resource queries against the candidate view. Policies never see the
// application manager or accounter directly, so they cannot mutate the
// live view or bypass BookResources.
type SystemView struct {
	apps *app.Manager
	acc  readOnlyAccounter
	view restree.ViewToken
}

// readOnlyAccounter is the subset of *accounter.Accounter a policy is
// allowed to call; BookResources et al are reached only through
// application.ScheduleRequest.
type readOnlyAccounter interface {
	Total(path restree.Path) uint64
	Unreserved(path restree.Path) uint64
	Available(path restree.Path, view restree.ViewToken, app restree.AppID) uint64
	Used(path restree.Path, view restree.ViewToken) uint64
	DomainInstances(domain restree.Type) []int
}

// NewSystemView builds the facade over apps/acc for the candidate view.
func NewSystemView(apps *app.Manager, acc readOnlyAccounter, view restree.ViewToken) *SystemView {
	return &SystemView{apps: apps, acc: acc, view: view}
}

// View returns the candidate view token this system view operates on.
func (s *SystemView) View() restree.ViewToken { return s.view }

// Priorities returns the distinct priority levels in use, most favored
// (lowest numeric value) first.
func (s *SystemView) Priorities() []int { return s.apps.Priorities() }

// AppsAtPriority returns every application at priority eligible for
// (re)scheduling this round: READY, RUNNING and SYNC(BLOCKED). Running
// applications are re-optimized every round the way the reference
// scheduler does it; a request that resolves to the same AWM and binding
// produces no transition, and a running application whose current AWM
// was invalidated by a constraint change gets migrated or blocked.
func (s *SystemView) AppsAtPriority(priority int) []*app.Application {
	var out []*app.Application
	for _, a := range s.apps.ByPriority(priority) {
		switch a.State() {
		case app.Ready, app.Running:
			out = append(out, a)
		case app.Sync:
			if a.SyncState() == app.SyncBlocked {
				out = append(out, a)
			}
		}
	}
	return out
}

// Running returns every currently RUNNING application, used by
// contributions that need the whole population's current allocation.
func (s *SystemView) Running() []*app.Application { return s.apps.ByState(app.Running) }

// Total, Unreserved, Available and Used proxy the accounter's read-only
// queries against this system view's candidate view.
func (s *SystemView) Total(path restree.Path) uint64      { return s.acc.Total(path) }
func (s *SystemView) Unreserved(path restree.Path) uint64 { return s.acc.Unreserved(path) }
func (s *SystemView) Available(path restree.Path, appID restree.AppID) uint64 {
	return s.acc.Available(path, s.view, appID)
}
func (s *SystemView) Used(path restree.Path) uint64 { return s.acc.Used(path, s.view) }

// DomainInstances returns the distinct ids registered for the given
// binding-domain type, e.g. the set of CPU package ids a policy can
// evaluate bindings against.
func (s *SystemView) DomainInstances(domain restree.Type) []int { return s.acc.DomainInstances(domain) }

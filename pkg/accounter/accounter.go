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

package accounter

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	logger "github.com/bbqrtrm/rtrm/pkg/log"
	"github.com/bbqrtrm/rtrm/pkg/restree"
)

var log = logger.Get("accounter")

// Accounter is the resource accounter: one live view plus any number of
// candidate or in-flight views over a single resource tree. All exported
// methods are safe for concurrent use. Internally we avoid needing a
// reentrant lock (Go's sync.Mutex is not one) by never calling back into an
// exported, locking method while already holding a.mu: every exported
// method either takes the lock itself and only touches private,
// non-locking helpers, or delegates to one that does.
type Accounter struct {
	mu  sync.RWMutex
	tree *restree.Tree

	live  restree.ViewToken
	views map[restree.ViewToken]*viewState

	// viewSeq disambiguates same-label views; atomic so GetView does not
	// need a second acquisition just to hand out a monotonic suffix.
	viewSeq atomic.Uint64

	// openSessions marks views currently bracketed by a sync session:
	// while open, BookResources into that view runs with checkAvailability
	// forced to false (see BookResources for what that changes).
	openSessions map[restree.ViewToken]bool
}

// New creates an accounter over tree, with an initial empty live view.
func New(tree *restree.Tree) *Accounter {
	a := &Accounter{
		tree:         tree,
		views:        map[restree.ViewToken]*viewState{},
		openSessions: map[restree.ViewToken]bool{},
	}
	live, _ := a.GetView("system")
	a.live = live
	return a
}

// Total returns the nominal capacity of every resource matching path,
// summed.
func (a *Accounter) Total(path restree.Path) uint64 {
	var total uint64
	for _, r := range a.tree.FindAll(path) {
		total += r.Total()
	}
	return total
}

// Unreserved returns total minus reserved for every resource matching path,
// summed.
func (a *Accounter) Unreserved(path restree.Path) uint64 {
	var total uint64
	for _, r := range a.tree.FindAll(path) {
		total += r.Unreserved()
	}
	return total
}

// Available returns how much of path is still bookable in view. When app is
// non-empty the query is from that application's perspective: what it
// already holds is added back in, since it could always rebook its own
// share.
func (a *Accounter) Available(path restree.Path, view restree.ViewToken, app restree.AppID) uint64 {
	var total uint64
	for _, r := range a.tree.FindAll(path) {
		total += r.Available(view, app)
	}
	return total
}

// Used returns how much of path is booked in view, across applications.
func (a *Accounter) Used(path restree.Path, view restree.ViewToken) uint64 {
	var total uint64
	for _, r := range a.tree.FindAll(path) {
		total += r.Used(view)
	}
	return total
}

// TotalByType returns the summed nominal capacity of every resource whose
// leaf segment is of type leaf, i.e. the platform-wide ceiling a request
// against that resource class can ever be satisfied within. Used to hide
// AWMs whose requests no binding could ever fit.
func (a *Accounter) TotalByType(leaf restree.Type) uint64 {
	var total uint64
	for _, r := range a.tree.All() {
		p := r.Path()
		if len(p) > 0 && p[len(p)-1].Type == leaf {
			total += r.Total()
		}
	}
	return total
}

// Reserve carves amount out of future availability on every resource
// matching path. Idempotent: a repeated identical call leaves the
// reservation unchanged rather than stacking.
func (a *Accounter) Reserve(path restree.Path, amount uint64) error {
	matches := a.tree.FindAll(path)
	if len(matches) == 0 {
		return errors.Wrapf(ErrNotFound, "%s", path)
	}
	for _, r := range matches {
		r.Reserve(amount)
	}
	return nil
}

// SetOffline forces every resource matching path to zero availability
// without altering its total, or brings it back online. Idempotent.
func (a *Accounter) SetOffline(path restree.Path, offline bool) error {
	matches := a.tree.FindAll(path)
	if len(matches) == 0 {
		return errors.Wrapf(ErrNotFound, "%s", path)
	}
	for _, r := range matches {
		r.SetOffline(offline)
	}
	return nil
}

// DomainInstances returns the distinct, sorted concrete ids registered
// for the given path-segment type anywhere in the tree, e.g.
// DomainInstances(restree.TypeCPU) for the set of CPU package ids a
// binding domain can be evaluated against.
func (a *Accounter) DomainInstances(domain restree.Type) []int {
	seen := map[int]bool{}
	for _, r := range a.tree.All() {
		for _, seg := range r.Path() {
			if seg.Type == domain && seg.ID >= 0 {
				seen[seg.ID] = true
			}
		}
	}
	out := make([]int, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// BookResources atomically books assign on behalf of app within view. Every
// booking draws only from what each bound resource still has available in
// view, whatever checkAvailability says. The flag only selects how a
// shortfall is reported: when it is false (used by the synchronization
// manager, and forced while a sync session for view is open) the caller is
// reproducing an allocation already vetted during scheduling, and the
// ErrExceeded it gets names that allocation as one that could not be
// reproduced.
func (a *Accounter) BookResources(app restree.AppID, assign AssignmentMap, view restree.ViewToken, checkAvailability bool) (Resolved, error) {
	if app == "" {
		return nil, ErrNullApp
	}
	if len(assign) == 0 {
		return nil, ErrEmptyMap
	}

	a.mu.Lock()
	vi, ok := a.views[view]
	if !ok {
		a.mu.Unlock()
		return nil, ErrUnknownView
	}
	if _, already := vi.booked[app]; already {
		a.mu.Unlock()
		return nil, ErrAlreadyBooked
	}
	if a.openSessions[view] {
		checkAvailability = false
	}
	a.mu.Unlock()

	resolved, err := a.draw(app, assign, view, checkAvailability)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	vi.booked[app] = assign
	a.mu.Unlock()

	return resolved, nil
}

// draw runs the booking algorithm: for each requested (path, amount),
// iterate the binding-list in order, drawing the minimum of each resource's
// per-view availability and the outstanding amount, until the amount is
// exhausted. It only mutates resource state once every path in assign has
// been shown satisfiable, so a failure anywhere leaves view unchanged.
func (a *Accounter) draw(app restree.AppID, assign AssignmentMap, view restree.ViewToken, checkAvailability bool) (Resolved, error) {
	type resourceDraw struct {
		res    *restree.Resource
		path   string
		amount uint64
	}
	var draws []resourceDraw
	already := map[*restree.Resource]uint64{}

	for path, entry := range assign {
		remaining := entry.Amount
		for _, bindPath := range entry.Bindings {
			if remaining == 0 {
				break
			}
			res, ok := a.tree.Lookup(bindPath)
			if !ok {
				continue
			}
			avail := res.Available(view, app)
			if avail <= already[res] {
				continue
			}
			free := avail - already[res]
			take := remaining
			if take > free {
				take = free
			}
			if take == 0 {
				continue
			}
			already[res] += take
			remaining -= take
			draws = append(draws, resourceDraw{res: res, path: bindPath.String(), amount: take})
		}
		if remaining > 0 {
			if checkAvailability {
				return nil, errors.Wrapf(ErrExceeded, "path %s short by %d", path, remaining)
			}
			return nil, errors.Wrapf(ErrExceeded,
				"sync booking could not reproduce recorded allocation for %s (short by %d)", path, remaining)
		}
	}

	resolved := make(Resolved, len(draws))
	for _, d := range draws {
		d.res.ApplyBooking(view, app, d.amount)
		resolved[d.path] += d.amount
	}
	log.Debug("booked %d resource(s) for %s in view %s", len(resolved), app, view)
	return resolved, nil
}

// ReleaseResources returns everything app holds in view.
func (a *Accounter) ReleaseResources(app restree.AppID, view restree.ViewToken) error {
	a.mu.Lock()
	vi, ok := a.views[view]
	if !ok {
		a.mu.Unlock()
		return ErrUnknownView
	}
	delete(vi.booked, app)
	a.mu.Unlock()

	for _, r := range a.tree.All() {
		r.ReleaseBooking(view, app)
	}
	return nil
}

// IsReshuffling reports whether two resolved bindings for the same AWM
// differ in the concrete amount assigned to any resource.
func IsReshuffling(current, next Resolved) bool {
	return !current.Equal(next)
}

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

package restree

import "sync"

// ViewToken identifies one accounting snapshot. Tokens, including the one
// for the live view, are handed out by the accounter.
type ViewToken string

// SystemView is the empty view token. The accounter never hands it out, so
// it does not name the live view.
const SystemView ViewToken = ""

// AppID identifies the owning application of a booking. It is opaque to the
// resource tree; the accounter and application packages agree on its shape
// (they use "pid:exc").
type AppID string

// Resource is one node of the resource tree, addressed by Path. Total is
// invariant after registration; Reserved, Offline and the per-view
// booking maps change over the resource's lifetime.
type Resource struct {
	mu sync.RWMutex

	path     Path
	unit     string
	total    uint64
	reserved uint64
	offline  bool

	// assigned, per view, per owning application.
	assigned map[ViewToken]map[AppID]uint64
}

// NewResource creates a resource node. Only the tree should call this, so
// that every resource it hands out is reachable by path.
func NewResource(path Path, unit string, total uint64) *Resource {
	return &Resource{
		path:     path,
		unit:     unit,
		total:    total,
		assigned: map[ViewToken]map[AppID]uint64{},
	}
}

// Path returns the resource's path. Paths are immutable for the lifetime of
// the resource.
func (r *Resource) Path() Path { return r.path }

// Unit returns the unit the resource is measured in (e.g. "pe", "MB", "MBps").
func (r *Resource) Unit() string { return r.unit }

// Total returns the nominal capacity of the resource, unaffected by
// reservations or offlining.
func (r *Resource) Total() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// Reserved returns the amount permanently carved out of availability.
func (r *Resource) Reserved() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reserved
}

// IsOffline reports whether the resource is currently forced to zero
// availability.
func (r *Resource) IsOffline() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.offline
}

// Unreserved returns total minus reserved, independent of any view.
func (r *Resource) Unreserved() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.reserved >= r.total {
		return 0
	}
	return r.total - r.reserved
}

// Used returns the sum of everything booked against the resource in view.
func (r *Resource) Used(view ViewToken) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.usedLocked(view)
}

func (r *Resource) usedLocked(view ViewToken) uint64 {
	var used uint64
	for _, amount := range r.assigned[view] {
		used += amount
	}
	return used
}

// UsedBy returns how much a specific application holds of the resource in
// view, or 0 if it holds none.
func (r *Resource) UsedBy(view ViewToken, app AppID) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.assigned[view][app]
}

// Available returns how much can still be booked in view. If app is
// non-empty, the amount is computed from that application's perspective:
// everything it already holds is added back, since it could always rebook
// what it already has.
func (r *Resource) Available(view ViewToken, app AppID) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.offline {
		return 0
	}
	cap := uint64(0)
	if r.reserved < r.total {
		cap = r.total - r.reserved
	}
	used := r.usedLocked(view)
	if app != "" {
		used -= r.assigned[view][app]
	}
	if used >= cap {
		return 0
	}
	return cap - used
}

// Reserve subtracts amount from future availability. Idempotent: calling it
// again with the same amount leaves the reservation unchanged rather than
// stacking.
func (r *Resource) Reserve(amount uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reserved = amount
}

// SetOffline forces availability to zero without altering Total. Idempotent.
func (r *Resource) SetOffline(offline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offline = offline
}

// ApplyBooking credits amount to app within view, bypassing any
// availability check; callers (the accounter) are responsible for
// enforcing the booking algorithm and the availability invariant.
func (r *Resource) ApplyBooking(view ViewToken, app AppID, amount uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.assigned[view]
	if !ok {
		m = map[AppID]uint64{}
		r.assigned[view] = m
	}
	m[app] += amount
}

// ReleaseBooking drops everything app holds in view, returning the amount
// it held.
func (r *Resource) ReleaseBooking(view ViewToken, app AppID) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.assigned[view]
	if !ok {
		return 0
	}
	amount := m[app]
	delete(m, app)
	return amount
}

// dropView discards all per-view bookings for view, e.g. once the view has
// been released by the accounter.
func (r *Resource) dropView(view ViewToken) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.assigned, view)
}

// CopyView duplicates every booking under src into dst, leaving src intact.
// Used when a sync session seeds a fresh view from the currently running
// applications' live bookings.
func (r *Resource) CopyView(src, dst ViewToken) {
	r.mu.Lock()
	defer r.mu.Unlock()
	srcMap, ok := r.assigned[src]
	if !ok || len(srcMap) == 0 {
		return
	}
	dstMap := make(map[AppID]uint64, len(srcMap))
	for app, amount := range srcMap {
		dstMap[app] = amount
	}
	r.assigned[dst] = dstMap
}

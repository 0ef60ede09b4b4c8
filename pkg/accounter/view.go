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

// Package accounter implements the resource accounter: the component that
// owns the resource tree and arbitrates between one live view and any
// number of candidate/in-flight views, guaranteeing that no view ever shows
// more committed to applications than a resource's total minus its
// reservation.
package accounter

import (
	"fmt"
	"hash/fnv"

	"github.com/bbqrtrm/rtrm/pkg/restree"
)

// Assignment is one entry of an AssignmentMap: the amount requested at a
// recipe-relative path, and the ordered list of concrete resources it may
// be drawn from.
type Assignment struct {
	Amount   uint64
	Bindings []restree.Path
}

// AssignmentMap is the unit of booking passed between the AWM, the
// accounter and the platform proxy: recipe path -> (amount, binding-list).
type AssignmentMap map[string]Assignment

// Resolved is the per-concrete-resource outcome of booking an AssignmentMap:
// concrete path string -> amount actually drawn from that resource. It is
// what AWM.SetCommittedBinding stores and what IsReshuffling compares.
type Resolved map[string]uint64

// Equal reports whether two resolved bindings draw the same amount from the
// same set of concrete resources.
func (r Resolved) Equal(o Resolved) bool {
	if len(r) != len(o) {
		return false
	}
	for path, amount := range r {
		if o[path] != amount {
			return false
		}
	}
	return true
}

type viewState struct {
	label  string
	booked map[restree.AppID]AssignmentMap
}

// GetView allocates a new, empty view identified by the hash of label.
// Labels need not be unique; the accounter disambiguates by appending a
// monotonic suffix, so repeated calls with the same label still yield
// distinct tokens.
func (a *Accounter) GetView(label string) (restree.ViewToken, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	h := fnv.New32a()
	_, _ = h.Write([]byte(label))
	token := restree.ViewToken(fmt.Sprintf("%s-%08x-%d", label, h.Sum32(), a.viewSeq.Inc()))

	a.views[token] = &viewState{label: label, booked: map[restree.AppID]AssignmentMap{}}
	return token, nil
}

// PutView releases a view, rejecting the live (system) view. All per-view
// bookkeeping held by the resource tree for the view is dropped too.
func (a *Accounter) PutView(token restree.ViewToken) error {
	a.mu.Lock()
	if token == a.live {
		a.mu.Unlock()
		return ErrSystemView
	}
	if _, ok := a.views[token]; !ok {
		a.mu.Unlock()
		return ErrUnknownView
	}
	delete(a.views, token)
	delete(a.openSessions, token)
	a.mu.Unlock()

	a.tree.ReleaseView(token)
	return nil
}

// SetView atomically promotes token to the system (live) view, returning
// the token of the view that was live before the call. The prior live view
// is NOT released automatically by the general-purpose SetView; callers
// that mean to drop it (sync commit) call PutView
// themselves once they are sure nothing else still needs it.
func (a *Accounter) SetView(token restree.ViewToken) (restree.ViewToken, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.views[token]; !ok {
		return "", ErrUnknownView
	}
	prior := a.live
	a.live = token
	return prior, nil
}

// LiveView returns the token of the current system view.
func (a *Accounter) LiveView() restree.ViewToken {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.live
}

// OpenViews returns how many views are currently allocated, the live
// view included.
func (a *Accounter) OpenViews() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.views)
}

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

package recipe

import (
	"github.com/mohae/deepcopy"

	"github.com/bbqrtrm/rtrm/pkg/accounter"
	"github.com/bbqrtrm/rtrm/pkg/restree"
)

// BindingRef names one candidate binding domain instance a policy evaluated
// an AWM against, e.g. {Domain: restree.TypeCPU, ID: 1} for "the second CPU
// package".
type BindingRef struct {
	Domain restree.Type
	ID     int
}

// CandidateBinding resolves each recipe-relative request path of an AWM to
// the single concrete resource path chosen for one particular BindingRef.
// It exists for bookkeeping (e.g. the migration contribution diffing CPU
// sets against the previous binding); the accounter works off the fuller
// AssignmentMap built from it, not off this map directly.
type CandidateBinding map[string]restree.Path

// AWM is one operating point. The same struct doubles as the recipe's
// immutable template and, once an application adopts the recipe, as the
// application's own mutable working copy obtained through Clone: the
// template's CandidateBindings/CommittedBinding stay empty and are only
// ever populated on a clone, never on the shared template.
type AWM struct {
	ID   int
	Name string

	RawValue  float64
	NormValue float64

	// Requests maps a recipe-relative resource path (e.g. "cpu.pe") to the
	// amount this AWM asks for.
	Requests map[string]uint64

	// Hidden marks an AWM whose requests exceed current platform totals.
	// Policies must skip hidden AWMs.
	Hidden bool

	// CandidateBindings is populated during scheduling, one entry per
	// binding domain instance a policy tried.
	CandidateBindings map[BindingRef]CandidateBinding

	// CommittedBinding is the one binding promoted to synchronization,
	// set by SetCommittedBinding once a policy's choice is accepted.
	CommittedBinding accounter.Resolved
}

// NewAWM creates an AWM template.
func NewAWM(id int, name string, rawValue float64, requests map[string]uint64) *AWM {
	reqs := make(map[string]uint64, len(requests))
	for k, v := range requests {
		reqs[k] = v
	}
	return &AWM{
		ID:                id,
		Name:              name,
		RawValue:          rawValue,
		Requests:          reqs,
		CandidateBindings: map[BindingRef]CandidateBinding{},
	}
}

// Clone returns a private, application-owned deep copy of the AWM: its own
// Requests map and an empty set of candidate/committed bindings so that two
// applications sharing a recipe never see each other's binding choices.
func (a *AWM) Clone() *AWM {
	copied := deepcopy.Copy(a).(*AWM)
	copied.CandidateBindings = map[BindingRef]CandidateBinding{}
	copied.CommittedBinding = nil
	return copied
}

// AddCandidateBinding records the recipe-path -> concrete-path resolution a
// policy produced while evaluating ref.
func (a *AWM) AddCandidateBinding(ref BindingRef, binding CandidateBinding) {
	a.CandidateBindings[ref] = binding
}

// CandidateBinding returns the binding recorded for ref, if any.
func (a *AWM) CandidateBinding(ref BindingRef) (CandidateBinding, bool) {
	b, ok := a.CandidateBindings[ref]
	return b, ok
}

// SetCommittedBinding promotes the resolved per-resource allocation to the
// binding that will drive synchronization.
func (a *AWM) SetCommittedBinding(resolved accounter.Resolved) {
	a.CommittedBinding = resolved
}

// AssignmentMap builds the AssignmentMap to book with the accounter for the
// given candidate binding: each recipe-path's requested amount, with its
// concrete resource (and, failing that, nothing else) as the sole entry of
// its binding-list.
func (a *AWM) AssignmentMap(binding CandidateBinding) accounter.AssignmentMap {
	out := make(accounter.AssignmentMap, len(a.Requests))
	for path, amount := range a.Requests {
		var bindings []restree.Path
		if concrete, ok := binding[path]; ok {
			bindings = []restree.Path{concrete}
		}
		out[path] = accounter.Assignment{Amount: amount, Bindings: bindings}
	}
	return out
}

// CPUBindingSet returns the set of concrete CPU-domain paths named by
// binding, used by the application state machine to tell MIGREC/MIGRATE
// apart from RECONF. Paths are truncated at their cpu segment: moving
// between processing elements of the same package is not a CPU-set
// change, only a finer rebinding the accounter reports as reshuffling.
func CPUBindingSet(binding CandidateBinding) map[string]bool {
	set := map[string]bool{}
	for _, path := range binding {
		for i, seg := range path {
			if seg.Type == restree.TypeCPU {
				set[path[:i+1].String()] = true
				break
			}
		}
	}
	return set
}

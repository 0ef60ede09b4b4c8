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

package contrib

import "github.com/bbqrtrm/rtrm/pkg/recipe"

// Migration penalizes changing CPU binding relative to the application's
// previous binding: the index is the number of current CPUs the candidate
// keeps over the size of the union of both CPU sets, so full credit only
// when the candidate's CPU set equals the current one.
type Migration struct {
	ctx RoundContext
}

// NewMigration creates a migration contribution.
func NewMigration() *Migration { return &Migration{} }

// Name implements Contribution.
func (m *Migration) Name() string { return "migration" }

// BindingDependent implements Contribution: the candidate's CPU set
// depends on which binding domain instance it is evaluated against.
func (m *Migration) BindingDependent() bool { return true }

// SetContext implements Contribution.
func (m *Migration) SetContext(ctx RoundContext) { m.ctx = ctx }

// Compute implements Contribution.
func (m *Migration) Compute(e Entity) (float64, error) {
	current := e.App.CurrentAWM()
	if current == nil || !e.HasBinding() {
		return 1.0, nil
	}
	curBinding, ok := current.CandidateBinding(e.App.CurrentBindingRef())
	if !ok {
		return 1.0, nil
	}
	nextBinding, ok := e.AWM.CandidateBinding(e.Ref)
	if !ok {
		return 1.0, nil
	}

	curSet := recipe.CPUBindingSet(curBinding)
	nextSet := recipe.CPUBindingSet(nextBinding)
	if len(curSet) == 0 && len(nextSet) == 0 {
		return 1.0, nil
	}

	kept := 0
	for cpu := range nextSet {
		if curSet[cpu] {
			kept++
		}
	}
	union := len(curSet)
	for cpu := range nextSet {
		if !curSet[cpu] {
			union++
		}
	}
	if union == 0 {
		return 1.0, nil
	}
	return clamp01(float64(kept) / float64(union)), nil
}

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

// Package contrib implements the scheduling-contributions: value,
// reconfig, fairness, migration and congestion. Each is an independent
// [0, 1] index over an evaluation Entity; the contribution manager in
// pkg/sched aggregates them into a single weighted metric.
package contrib

import (
	"github.com/bbqrtrm/rtrm/pkg/accounter"
	"github.com/bbqrtrm/rtrm/pkg/app"
	"github.com/bbqrtrm/rtrm/pkg/recipe"
	"github.com/bbqrtrm/rtrm/pkg/restree"
)

// Entity is the unit of evaluation a contribution scores: one
// application considered for one AWM, optionally bound to one instance
// of a binding domain.
type Entity struct {
	App       *app.Application
	AWM       *recipe.AWM
	Domain    restree.Type
	BindingID int
	Ref       recipe.BindingRef
}

// HasBinding reports whether the entity carries a concrete binding
// choice, i.e. whether binding-dependent contributions can evaluate it.
func (e Entity) HasBinding() bool { return e.Domain != "" }

// RoundContext is the read-only view of the system a contribution needs
// while scoring: the candidate view being built and the accounter to
// query it through. It is set once per scheduling round.
type RoundContext struct {
	Acc  *accounter.Accounter
	View restree.ViewToken
}

// Contribution computes one scalar term of the aggregate scoring
// function. Implementations must return a value in [0, 1].
type Contribution interface {
	// Name is the contribution's registration key (e.g. "value").
	Name() string
	// BindingDependent reports whether Compute needs e.Domain/e.BindingID
	// to be set, i.e. whether it must be recomputed per binding candidate
	// rather than once per (application, AWM) pair.
	BindingDependent() bool
	// SetContext primes the contribution with the round's accounter and
	// candidate view, called once before any Compute call in the round.
	SetContext(ctx RoundContext)
	// Compute scores e, returning a value in [0, 1].
	Compute(e Entity) (float64, error)
}

// FairnessInitializer is implemented by contributions (only Fairness, at
// present) that need a one-time per-priority setup pass before scoring
// any entity in the round.
type FairnessInitializer interface {
	InitFairness(apps *app.Manager) error
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

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

// Package yams is the reference scheduling policy: for every priority
// level, top-down, it generates a (application, AWM, binding) candidate
// for every enabled AWM on every CPU package, scores each with the
// contribution manager, and dispatches the best-scoring undecided
// candidate to each application, in the order spec.md §4.4 describes.
package yams

import (
	"sort"

	"github.com/bbqrtrm/rtrm/pkg/app"
	logger "github.com/bbqrtrm/rtrm/pkg/log"
	"github.com/bbqrtrm/rtrm/pkg/recipe"
	"github.com/bbqrtrm/rtrm/pkg/restree"
	"github.com/bbqrtrm/rtrm/pkg/sched"
	"github.com/bbqrtrm/rtrm/pkg/sched/contrib"
)

var log = logger.Get("yams")

func init() {
	_ = sched.Register("yams", func(mgr *sched.Manager) sched.Policy {
		return &Policy{mgr: mgr}
	})
}

// Policy implements sched.Policy.
type Policy struct {
	mgr *sched.Manager
}

// Name implements sched.Policy.
func (p *Policy) Name() string { return "yams" }

// candidate is one scored (app, AWM, binding) triple.
type candidate struct {
	entity contrib.Entity
	metric float64
}

// Schedule implements sched.Policy: the candidate-generation and
// tie-breaking loop of spec.md §4.4.
func (p *Policy) Schedule(sv *sched.SystemView) error {
	cpus := sv.DomainInstances(restree.TypeCPU)
	if len(cpus) == 0 {
		log.Warn("no CPU binding domain instances registered, nothing to schedule")
	}

	for _, priority := range sv.Priorities() {
		var candidates []candidate

		for _, a := range sv.AppsAtPriority(priority) {
			for _, awm := range a.EnabledList() {
				if awm.Hidden {
					continue
				}
				entity := contrib.Entity{App: a, AWM: awm}
				base, err := p.mgr.BaseMetric(entity)
				if err != nil {
					return err
				}

				for _, cpuID := range cpus {
					ref := recipe.BindingRef{Domain: restree.TypeCPU, ID: cpuID}
					binding := sched.BindCPU(awm, 0, cpuID)
					awm.AddCandidateBinding(ref, binding)

					bound := contrib.Entity{App: a, AWM: awm, Domain: restree.TypeCPU, BindingID: cpuID, Ref: ref}
					full, err := p.mgr.FullMetric(base, bound)
					if err != nil {
						return err
					}
					candidates = append(candidates, candidate{entity: bound, metric: full})
				}
			}
		}

		sort.SliceStable(candidates, func(i, j int) bool {
			ci, cj := candidates[i], candidates[j]
			if ci.metric != cj.metric {
				return ci.metric > cj.metric
			}
			gi, gj := ci.entity.App.GoalGapPercent(), cj.entity.App.GoalGapPercent()
			if gi != gj {
				return gi > gj
			}
			return ci.entity.AWM.NormValue > cj.entity.AWM.NormValue
		})

		decided := map[string]bool{}
		for _, c := range candidates {
			id := c.entity.App.ID().String()
			if decided[id] {
				continue
			}
			err := c.entity.App.ScheduleRequest(c.entity.AWM.ID, c.entity.Ref, sv.View())
			if err != nil {
				log.Debug("%s: candidate awm=%d cpu=%d rejected: %v",
					id, c.entity.AWM.ID, c.entity.BindingID, err)
				continue
			}
			decided[id] = true
		}

		// A running application whose current AWM was invalidated by a
		// constraint change must not keep running in it: with no feasible
		// candidate left, it is blocked instead.
		for _, a := range sv.AppsAtPriority(priority) {
			if decided[a.ID().String()] {
				continue
			}
			if a.State() == app.Running && a.CurrentInvalid() {
				log.Warn("%s: current AWM invalidated with no feasible candidate, blocking", a.ID())
				if err := a.Unschedule(); err != nil {
					log.Warn("%s: unschedule: %v", a.ID(), err)
				}
			}
		}
	}
	return nil
}

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

import (
	"math"

	"github.com/bbqrtrm/rtrm/pkg/app"
	"github.com/bbqrtrm/rtrm/pkg/restree"
)

// Fairness penalizes a candidate's request the further its share departs
// from the per-priority fair partition (available divided evenly across
// every application at that priority). The kernel is parameterized by an
// exponential base and by a per-resource-type saturation level: a request
// taking more than the saturation fraction of a resource's total gets no
// fairness credit at all. It needs InitFairness called once per round,
// before any Compute, to capture the per-priority applicant counts.
type Fairness struct {
	ctx  RoundContext
	base float64
	// saturation caps, per leaf resource type, the fraction of a
	// resource's total a single application may request.
	saturation map[restree.Type]float64
	count      map[int]int // priority -> applicant count, from the last InitFairness
}

// NewFairness creates a fairness contribution with the given exponential
// penalty base (config.FairnessBase) and per-resource-type saturation
// levels in percent (config.FairnessSaturation, clamped to [0, 100]; an
// absent type saturates at 100%).
func NewFairness(base float64, saturationPct map[restree.Type]float64) *Fairness {
	if base <= 1.0 {
		base = 2.0
	}
	saturation := make(map[restree.Type]float64, len(saturationPct))
	for typ, pct := range saturationPct {
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		saturation[typ] = pct / 100.0
	}
	return &Fairness{base: base, saturation: saturation, count: map[int]int{}}
}

func (f *Fairness) saturationFor(typ restree.Type) float64 {
	if s, ok := f.saturation[typ]; ok {
		return s
	}
	return 1.0
}

// Name implements Contribution.
func (f *Fairness) Name() string { return "fairness" }

// BindingDependent implements Contribution: the fair partition is judged
// against the specific resources the candidate binding would draw from.
func (f *Fairness) BindingDependent() bool { return true }

// SetContext implements Contribution.
func (f *Fairness) SetContext(ctx RoundContext) { f.ctx = ctx }

// InitFairness implements FairnessInitializer: snapshots how many
// applications currently sit at each priority level.
func (f *Fairness) InitFairness(apps *app.Manager) error {
	f.count = map[int]int{}
	for _, p := range apps.Priorities() {
		f.count[p] = apps.CountAtPriority(p)
	}
	return nil
}

// Compute implements Contribution.
func (f *Fairness) Compute(e Entity) (float64, error) {
	if !e.HasBinding() {
		return 1.0, nil
	}
	binding, ok := e.AWM.CandidateBinding(e.Ref)
	if !ok {
		return 1.0, nil
	}

	count := f.count[e.App.Priority()]
	if count <= 0 {
		count = 1
	}

	var totalRequest, totalAvail uint64
	appID := e.App.ID().ResourceID()
	for path, amount := range e.AWM.Requests {
		concrete, ok := binding[path]
		if !ok || len(concrete) == 0 {
			continue
		}
		sat := f.saturationFor(concrete[len(concrete)-1].Type)
		if total := f.ctx.Acc.Total(concrete); total > 0 && float64(amount) > sat*float64(total) {
			return 0.0, nil
		}
		totalRequest += amount
		totalAvail += f.ctx.Acc.Available(concrete, f.ctx.View, appID)
	}
	if totalAvail == 0 {
		return 1.0, nil
	}

	partition := float64(totalAvail) / float64(count)
	if partition == 0 {
		return 1.0, nil
	}
	share := float64(totalRequest) / partition
	return clamp01(math.Exp(-f.base * math.Abs(share-1))), nil
}

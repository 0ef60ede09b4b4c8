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

	"github.com/bbqrtrm/rtrm/pkg/restree"
)

// Params describes the piecewise congestion kernel for one resource
// domain: constant below LinearThreshold, linearly decreasing up to
// ExpThreshold, exponentially decaying beyond it, all expressed as a
// fraction of the resource's total capacity.
type Params struct {
	LinearThreshold float64
	ExpThreshold    float64
	ExpBase         float64
}

var defaultParams = Params{LinearThreshold: 0.7, ExpThreshold: 0.9, ExpBase: 3.0}

// Congestion penalizes a candidate binding proportionally to how close
// it would push the underlying resource's usage ratio toward saturation.
type Congestion struct {
	ctx    RoundContext
	params map[restree.Type]Params
}

// NewCongestion creates a congestion contribution, one Params set per
// resource domain (config.Congestion, keyed by type name).
func NewCongestion(params map[restree.Type]Params) *Congestion {
	if params == nil {
		params = map[restree.Type]Params{}
	}
	return &Congestion{params: params}
}

// Name implements Contribution.
func (c *Congestion) Name() string { return "congestion" }

// BindingDependent implements Contribution.
func (c *Congestion) BindingDependent() bool { return true }

// SetContext implements Contribution.
func (c *Congestion) SetContext(ctx RoundContext) { c.ctx = ctx }

// Compute implements Contribution.
func (c *Congestion) Compute(e Entity) (float64, error) {
	if !e.HasBinding() {
		return 1.0, nil
	}
	binding, ok := e.AWM.CandidateBinding(e.Ref)
	if !ok {
		return 1.0, nil
	}
	params, ok := c.params[e.Domain]
	if !ok {
		params = defaultParams
	}

	worst := 1.0
	for path, amount := range e.AWM.Requests {
		concrete, ok := binding[path]
		if !ok {
			continue
		}
		total := c.ctx.Acc.Total(concrete)
		if total == 0 {
			continue
		}
		used := c.ctx.Acc.Used(concrete, c.ctx.View)
		ratio := float64(used+amount) / float64(total)
		if idx := cleIndex(ratio, params); idx < worst {
			worst = idx
		}
	}
	return clamp01(worst), nil
}

// cleIndex is the constant/linear/exponential filter familiar from the
// original's CLEIndex: flat at 1.0 below LinearThreshold, decaying
// linearly to 0.5 by ExpThreshold, then exponentially beyond it.
func cleIndex(ratio float64, p Params) float64 {
	switch {
	case ratio <= p.LinearThreshold:
		return 1.0
	case ratio <= p.ExpThreshold:
		span := p.ExpThreshold - p.LinearThreshold
		if span <= 0 {
			return 1.0
		}
		frac := (ratio - p.LinearThreshold) / span
		return 1.0 - 0.5*frac
	default:
		base := p.ExpBase
		if base <= 1.0 {
			base = 3.0
		}
		over := ratio - p.ExpThreshold
		return 0.5 * math.Pow(1/base, over*10)
	}
}

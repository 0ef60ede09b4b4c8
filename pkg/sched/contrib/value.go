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

// Value is monotone in the candidate AWM's normalized value, tilted by
// the application's last reported goal-gap hint: a positive gap (the
// application is under-performing) pulls the index up toward richer
// AWMs, a negative one pulls it down. An application that reports no
// explicit gap but is actively cycling at a saturated CPU gets an
// implicit positive tilt derived from its runtime profile.
type Value struct {
	ctx RoundContext
	// GapWeight scales how much a +/-100% goal gap shifts the index.
	GapWeight float64
	// SaturationUsage is the profiled CPU usage (percent) above which an
	// application with no explicit goal gap is treated as under-provisioned.
	SaturationUsage int
}

// NewValue creates a value contribution with the default gap tilt.
func NewValue() *Value { return &Value{GapWeight: 0.25, SaturationUsage: 90} }

// Name implements Contribution.
func (v *Value) Name() string { return "value" }

// BindingDependent implements Contribution: the AWM's value does not
// depend on which binding domain instance it ends up on.
func (v *Value) BindingDependent() bool { return false }

// SetContext implements Contribution.
func (v *Value) SetContext(ctx RoundContext) { v.ctx = ctx }

// Compute implements Contribution.
func (v *Value) Compute(e Entity) (float64, error) {
	base := e.AWM.NormValue
	gap := float64(e.App.GoalGapPercent()) / 100.0
	// A zero cycle time means no runtime profile has been reported yet;
	// only a profiled, saturated application earns the implicit tilt.
	if gap == 0 && e.App.CycleTimeMillis() > 0 {
		if usage := e.App.CPUUsagePercent(); usage > v.SaturationUsage {
			gap = float64(usage-v.SaturationUsage) / 100.0
		}
	}
	return clamp01(base + v.GapWeight*gap), nil
}

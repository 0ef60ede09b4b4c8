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

// Reconfig scores 1.0 for staying in the current AWM and decreases with
// the AWM-id distance of the candidate from it: a cheap proxy for
// reconfiguration cost absent a platform-specific cost model.
type Reconfig struct {
	ctx RoundContext
}

// NewReconfig creates a reconfig contribution.
func NewReconfig() *Reconfig { return &Reconfig{} }

// Name implements Contribution.
func (r *Reconfig) Name() string { return "reconfig" }

// BindingDependent implements Contribution.
func (r *Reconfig) BindingDependent() bool { return false }

// SetContext implements Contribution.
func (r *Reconfig) SetContext(ctx RoundContext) { r.ctx = ctx }

// Compute implements Contribution.
func (r *Reconfig) Compute(e Entity) (float64, error) {
	current := e.App.CurrentAWM()
	if current == nil {
		return 1.0, nil
	}
	dist := current.ID - e.AWM.ID
	if dist < 0 {
		dist = -dist
	}
	return clamp01(1.0 / float64(1+dist)), nil
}

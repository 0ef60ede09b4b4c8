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

// Package recipe holds the immutable, loader-produced description of an
// application's operating points: the Recipe bundle and its AWM (Application
// Working Mode) templates. Recipe parsing itself is external to this
// package; a Recipe arrives here already built, and the only mutation this
// package performs is the one-time value normalization at Finalize.
package recipe

import (
	"fmt"
	"sort"
)

// ResourceBound is a static lower/upper constraint on a resource path,
// carried by a recipe.
type ResourceBound struct {
	Lower uint64
	Upper uint64
}

// InRange reports whether amount satisfies the bound. A zero-value bound
// (Lower==Upper==0) is treated as unconstrained.
func (b ResourceBound) InRange(amount uint64) bool {
	if b.Lower == 0 && b.Upper == 0 {
		return true
	}
	if b.Upper != 0 && amount > b.Upper {
		return false
	}
	return amount >= b.Lower
}

// Recipe is the immutable bundle a recipe loader produces for one
// application: its family of AWM templates, static per-path resource
// constraints, a baseline scheduling priority, and opaque plug-in data
// policies may stash arbitrary hints in.
type Recipe struct {
	Name              string
	AWMs              []*AWM
	StaticConstraints map[string]ResourceBound
	Priority          int
	PluginData        map[string]interface{}

	finalized bool
}

// New builds a recipe from already-parsed components. It does not
// normalize AWM values; call Finalize once loading is complete.
func New(name string, awms []*AWM, constraints map[string]ResourceBound, priority int, pluginData map[string]interface{}) *Recipe {
	sorted := make([]*AWM, len(awms))
	copy(sorted, awms)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	if constraints == nil {
		constraints = map[string]ResourceBound{}
	}
	if pluginData == nil {
		pluginData = map[string]interface{}{}
	}
	return &Recipe{
		Name:              name,
		AWMs:              sorted,
		StaticConstraints: constraints,
		Priority:          priority,
		PluginData:        pluginData,
	}
}

// Finalize normalizes every AWM's raw value into [0, 1] relative to the
// highest raw value in the recipe, and marks the recipe immutable. It is
// idempotent.
func (r *Recipe) Finalize() error {
	if r.finalized {
		return nil
	}
	if len(r.AWMs) == 0 {
		return fmt.Errorf("recipe: %q has no AWMs", r.Name)
	}

	var max float64
	for _, awm := range r.AWMs {
		if awm.RawValue > max {
			max = awm.RawValue
		}
	}
	if max == 0 {
		max = 1
	}
	for _, awm := range r.AWMs {
		awm.NormValue = awm.RawValue / max
	}
	r.finalized = true
	return nil
}

// AWMByID returns the AWM template with the given id.
func (r *Recipe) AWMByID(id int) (*AWM, bool) {
	for _, awm := range r.AWMs {
		if awm.ID == id {
			return awm, true
		}
	}
	return nil, false
}

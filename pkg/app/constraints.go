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

package app

import (
	"sort"

	"github.com/bbqrtrm/rtrm/pkg/recipe"
)

// noBound marks an unset lower/upper range constraint.
const noBound = -1

// constraintSet holds the two independent constraint families described by
// the spec: an AWM id range (plus per-id exact toggles) and per-path
// resource bounds. It is owned by a single Application and mutated only
// while that application's state lock is held.
type constraintSet struct {
	lower int // noBound or the smallest enabled id
	upper int // noBound or the largest enabled id

	// exactToggled holds AWM ids whose default range membership has been
	// flipped by an explicit exact() call.
	exactToggled map[int]bool

	resourceBounds map[string]recipe.ResourceBound
}

func newConstraintSet() *constraintSet {
	return &constraintSet{
		lower:          noBound,
		upper:          noBound,
		exactToggled:   map[int]bool{},
		resourceBounds: map[string]recipe.ResourceBound{},
	}
}

// SetLowerBound disables every AWM id below k; clearing it later
// re-enables whatever range k..upper allows again. Never disables an AWM
// with id < the new bound only to re-enable one that was already disabled
// for another reason (exact toggles still apply).
func (c *constraintSet) SetLowerBound(k int) { c.lower = k }

// ClearLowerBound removes the lower-bound constraint.
func (c *constraintSet) ClearLowerBound() { c.lower = noBound }

// SetUpperBound disables every AWM id above k.
func (c *constraintSet) SetUpperBound(k int) { c.upper = k }

// ClearUpperBound removes the upper-bound constraint.
func (c *constraintSet) ClearUpperBound() { c.upper = noBound }

// ToggleExact flips the default range-membership decision for AWM id k:
// calling it twice for the same id is a no-op relative to the range bounds.
func (c *constraintSet) ToggleExact(k int) {
	if c.exactToggled[k] {
		delete(c.exactToggled, k)
	} else {
		c.exactToggled[k] = true
	}
}

// SetResourceBound constrains the amount any enabled AWM may request at path.
func (c *constraintSet) SetResourceBound(path string, bound recipe.ResourceBound) {
	c.resourceBounds[path] = bound
}

// ClearResourceBound removes the per-path resource constraint.
func (c *constraintSet) ClearResourceBound(path string) {
	delete(c.resourceBounds, path)
}

// inRange reports whether id falls within the range implied by lower/upper,
// with exact toggles flipping the default decision.
func (c *constraintSet) inRange(id int) bool {
	enabled := true
	if c.lower != noBound && id < c.lower {
		enabled = false
	}
	if c.upper != noBound && id > c.upper {
		enabled = false
	}
	if c.exactToggled[id] {
		enabled = !enabled
	}
	return enabled
}

// satisfiesResourceBounds reports whether every declared bound accepts the
// amount the AWM actually requests at that path (a path the AWM does not
// request at all is treated as requesting zero).
func (c *constraintSet) satisfiesResourceBounds(awm *recipe.AWM, r *recipe.Recipe) bool {
	check := func(bounds map[string]recipe.ResourceBound) bool {
		for path, bound := range bounds {
			if !bound.InRange(awm.Requests[path]) {
				return false
			}
		}
		return true
	}
	if !check(r.StaticConstraints) {
		return false
	}
	return check(c.resourceBounds)
}

// rebuildEnabledList scans every template AWM in r, drops the ones that
// violate the current constraints or are hidden, and returns the survivors
// sorted by normalized value ascending.
func (c *constraintSet) rebuildEnabledList(r *recipe.Recipe) []*recipe.AWM {
	var enabled []*recipe.AWM
	for _, awm := range r.AWMs {
		if awm.Hidden {
			continue
		}
		if !c.inRange(awm.ID) {
			continue
		}
		if !c.satisfiesResourceBounds(awm, r) {
			continue
		}
		enabled = append(enabled, awm)
	}
	sort.Slice(enabled, func(i, j int) bool {
		return enabled[i].NormValue < enabled[j].NormValue
	})
	return enabled
}

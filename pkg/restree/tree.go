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

package restree

import (
	"fmt"
	"sort"
	"sync"
)

// Tree is the strict, path-keyed resource inventory. Resources are created
// at registration time and never removed for the lifetime of the tree.
type Tree struct {
	mu        sync.RWMutex
	resources map[string]*Resource
	order     []*Resource // registration order, for deterministic iteration
}

// NewTree creates an empty resource tree.
func NewTree() *Tree {
	return &Tree{resources: map[string]*Resource{}}
}

// Register adds a new resource at path. Registering the same concrete path
// twice is an error: the tree never destroys or replaces a node.
func (t *Tree) Register(path Path, unit string, total uint64) (*Resource, error) {
	if path.IsTemplate() {
		return nil, fmt.Errorf("restree: cannot register a templated path %s", path)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	key := path.String()
	if _, exists := t.resources[key]; exists {
		return nil, fmt.Errorf("restree: resource %s already registered", path)
	}
	r := NewResource(path, unit, total)
	t.resources[key] = r
	t.order = append(t.order, r)
	return r, nil
}

// All returns every registered resource in registration order.
func (t *Tree) All() []*Resource {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Resource, len(t.order))
	copy(out, t.order)
	return out
}

// FindFirst returns the lowest-id resource among the type-equal candidates
// matching template. It is a fatal (returns an error) query if no type-equal
// candidate exists at all.
func (t *Tree) FindFirst(template Path) (*Resource, error) {
	all := t.FindAll(template)
	if len(all) == 0 {
		return nil, fmt.Errorf("restree: no resource matches %s", template)
	}
	sort.Slice(all, func(i, j int) bool {
		return lastID(all[i].Path()) < lastID(all[j].Path())
	})
	return all[0], nil
}

func lastID(p Path) int {
	if len(p) == 0 {
		return 0
	}
	return p[len(p)-1].ID
}

// FindAll returns every leaf resource whose path matches template: the
// template's type sequence must agree and every concrete id in the template
// must agree with the candidate, Any and None segments match anything.
func (t *Tree) FindAll(template Path) []*Resource {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*Resource
	for _, r := range t.order {
		if r.Path().Matches(template) {
			out = append(out, r)
		}
	}
	return out
}

// FindMixed resolves a path that may mix concrete and wildcard segments,
// intersecting the concrete constraints against the tree. It is the same
// matching rule as FindAll, exposed separately because callers (binding
// resolution) reason about it as "mixed" lookup rather than pure templates.
func (t *Tree) FindMixed(path Path) ([]*Resource, error) {
	matches := t.FindAll(path)
	if len(matches) == 0 {
		return nil, fmt.Errorf("restree: no resource matches %s", path)
	}
	return matches, nil
}

// Lookup returns the single resource registered at the exact concrete path,
// if any.
func (t *Tree) Lookup(path Path) (*Resource, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.resources[path.String()]
	return r, ok
}

// ReleaseView drops every per-view booking for view across the whole tree.
// Called by the accounter when a view is put back.
func (t *Tree) ReleaseView(view ViewToken) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.order {
		r.dropView(view)
	}
}

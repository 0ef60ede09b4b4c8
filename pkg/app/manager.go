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
	"sync"

	"github.com/pkg/errors"

	"github.com/bbqrtrm/rtrm/pkg/accounter"
)

// ErrAlreadyRegistered is returned when an application with the same ID is
// registered twice.
var ErrAlreadyRegistered = errors.New("app: already registered")

// Manager owns the set of applications known to the resource manager. It
// serializes registration/unregistration but allows read-only iteration to
// proceed concurrently under its own lock, matching the concurrency model
// of the rest of the scheduling round.
type Manager struct {
	mu   sync.RWMutex
	apps map[ID]*Application
	acc  *accounter.Accounter
}

// NewManager creates an empty application manager bound to acc.
func NewManager(acc *accounter.Accounter) *Manager {
	return &Manager{apps: map[ID]*Application{}, acc: acc}
}

// Register adds a new, DISABLED application to the manager.
func (m *Manager) Register(id ID, name string, priority int, language string, container bool) (*Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.apps[id]; exists {
		return nil, errors.Wrapf(ErrAlreadyRegistered, "%s", id)
	}
	a := New(id, name, priority, language, container, m.acc)
	m.apps[id] = a
	log.Info("%s: registered (%s)", id, name)
	return a, nil
}

// Unregister removes an application entirely, e.g. once it has reached
// FINISHED and exited.
func (m *Manager) Unregister(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.apps, id)
	log.Info("%s: unregistered", id)
}

// Get returns the application with the given id, if known.
func (m *Manager) Get(id ID) (*Application, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.apps[id]
	return a, ok
}

// All returns every registered application.
func (m *Manager) All() []*Application {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Application, 0, len(m.apps))
	for _, a := range m.apps {
		out = append(out, a)
	}
	return out
}

// ByPriority returns every application at the given priority level.
func (m *Manager) ByPriority(priority int) []*Application {
	var out []*Application
	for _, a := range m.All() {
		if a.Priority() == priority {
			out = append(out, a)
		}
	}
	return out
}

// ByState returns every application currently in state.
func (m *Manager) ByState(state State) []*Application {
	var out []*Application
	for _, a := range m.All() {
		if a.State() == state {
			out = append(out, a)
		}
	}
	return out
}

// Priorities returns the distinct priority levels currently in use, lowest
// (most favored) first.
func (m *Manager) Priorities() []int {
	seen := map[int]bool{}
	for _, a := range m.All() {
		seen[a.Priority()] = true
	}
	out := make([]int, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// CountAtPriority returns how many applications currently sit at priority,
// used by the fairness contribution's per-priority partition.
func (m *Manager) CountAtPriority(priority int) int {
	return len(m.ByPriority(priority))
}

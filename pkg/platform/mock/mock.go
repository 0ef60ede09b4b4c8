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

// Package mock is an in-memory platform.Proxy stand-in: it records every
// call instead of touching real hardware, so pkg/syncmgr can exercise the
// full enforcement contract in tests.
package mock

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/bbqrtrm/rtrm/pkg/accounter"
	"github.com/bbqrtrm/rtrm/pkg/restree"
)

// Call records one invocation of a Proxy method, in order, for tests that
// want to assert on call sequence rather than just end state.
type Call struct {
	Method string
	App    restree.AppID
}

// Proxy is the in-memory platform.Proxy implementation.
type Proxy struct {
	mu sync.Mutex

	Loaded    bool
	Refreshed int

	setup     map[restree.AppID]bool
	mapped    map[restree.AppID]accounter.AssignmentMap
	exclusive map[restree.AppID]bool
	released  map[restree.AppID]bool

	Calls []Call

	// FailApp, if set, makes Setup, MapResources and ReclaimResources for
	// that app return an error, simulating a platform failure.
	FailApp restree.AppID
}

// New creates an empty mock proxy.
func New() *Proxy {
	return &Proxy{
		setup:     map[restree.AppID]bool{},
		mapped:    map[restree.AppID]accounter.AssignmentMap{},
		exclusive: map[restree.AppID]bool{},
		released:  map[restree.AppID]bool{},
	}
}

// LoadPlatformData records that platform data was (re)loaded; it never
// registers anything into tree itself, leaving that to the test's own
// fixture setup.
func (p *Proxy) LoadPlatformData(tree *restree.Tree) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Loaded = true
	return nil
}

// Setup records that app's per-application state was initialized.
func (p *Proxy) Setup(app restree.AppID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, Call{Method: "Setup", App: app})
	if p.FailApp != "" && app == p.FailApp {
		return errors.Errorf("mock: injected Setup failure for %s", app)
	}
	p.setup[app] = true
	return nil
}

// MapResources records assign for app, as-is.
func (p *Proxy) MapResources(app restree.AppID, assign accounter.AssignmentMap, exclusive bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, Call{Method: "MapResources", App: app})
	if p.FailApp != "" && app == p.FailApp {
		return errors.Errorf("mock: injected MapResources failure for %s", app)
	}
	p.mapped[app] = assign
	p.exclusive[app] = exclusive
	return nil
}

// ReclaimResources drops whatever MapResources last recorded for app.
func (p *Proxy) ReclaimResources(app restree.AppID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, Call{Method: "ReclaimResources", App: app})
	if p.FailApp != "" && app == p.FailApp {
		return errors.Errorf("mock: injected ReclaimResources failure for %s", app)
	}
	delete(p.mapped, app)
	delete(p.exclusive, app)
	return nil
}

// Release drops all per-application state for app.
func (p *Proxy) Release(app restree.AppID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, Call{Method: "Release", App: app})
	delete(p.setup, app)
	delete(p.mapped, app)
	delete(p.exclusive, app)
	p.released[app] = true
	return nil
}

// Refresh counts how many times it was called.
func (p *Proxy) Refresh() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Refreshed++
	return nil
}

// IsSetup reports whether Setup has been called for app and not undone by
// Release.
func (p *Proxy) IsSetup(app restree.AppID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.setup[app]
}

// Mapped returns the last AssignmentMap recorded for app via MapResources.
func (p *Proxy) Mapped(app restree.AppID) (accounter.AssignmentMap, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.mapped[app]
	return m, ok
}

// IsExclusive reports the exclusive flag last passed to MapResources for app.
func (p *Proxy) IsExclusive(app restree.AppID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exclusive[app]
}

// IsReleased reports whether Release has been called for app.
func (p *Proxy) IsReleased(app restree.AppID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released[app]
}

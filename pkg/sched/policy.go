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

package sched

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrUnknownPolicy is returned when New is asked for an unregistered
// policy name.
var ErrUnknownPolicy = errors.New("sched: unknown policy")

// ErrAlreadyRegistered is returned when two policies register under the
// same name.
var ErrAlreadyRegistered = errors.New("sched: policy already registered")

// Policy is the scheduling policy plug-in contract: given a read-only
// system view, book this round's schedule decisions into that view's
// candidate view token (committed into applications via ScheduleRequest).
type Policy interface {
	// Name is the policy's registration key.
	Name() string
	// Schedule runs one scheduling round over sv, booking into sv.View();
	// it returns only an error.
	Schedule(sv *SystemView) error
}

// CreateFn builds a Policy instance bound to a contribution manager.
type CreateFn func(mgr *Manager) Policy

var (
	registryMu sync.Mutex
	registry   = map[string]CreateFn{}
)

// Register adds a named policy constructor to the registry. Intended to
// be called from a policy package's init().
func Register(name string, fn CreateFn) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		return errors.Wrapf(ErrAlreadyRegistered, "%s", name)
	}
	registry[name] = fn
	log.Info("policy %q registered", name)
	return nil
}

// New constructs the named policy. Exactly one policy is active per
// run, selected by config.Policy.
func New(name string, mgr *Manager) (Policy, error) {
	registryMu.Lock()
	fn, ok := registry[name]
	registryMu.Unlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownPolicy, "%s", name)
	}
	return fn(mgr), nil
}

// RegisteredPolicies returns the names of every policy plug-in registered
// so far, for "--list-policies"-style command line tooling.
func RegisteredPolicies() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

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

// Package sched implements the scheduling-contributions manager and the
// policy-facing system view: the pieces every policy plug-in shares,
// regardless of which candidate-generation loop it runs.
package sched

import (
	"github.com/pkg/errors"

	"github.com/bbqrtrm/rtrm/pkg/accounter"
	"github.com/bbqrtrm/rtrm/pkg/app"
	logger "github.com/bbqrtrm/rtrm/pkg/log"
	"github.com/bbqrtrm/rtrm/pkg/metrics"
	"github.com/bbqrtrm/rtrm/pkg/restree"
	"github.com/bbqrtrm/rtrm/pkg/sched/contrib"
)

var log = logger.Get("sched")

// ErrNoContributions is returned by NewManager when it is given no
// contributions.
var ErrNoContributions = errors.New("sched: no contributions registered")

// Manager normalizes contribution weights and aggregates them into the
// single metric policies rank candidates by.
type Manager struct {
	contributions []contrib.Contribution
	weights       map[string]float64
	metrics       *metrics.Collectors
}

// NewManager creates a contribution manager. weights need not sum to 1;
// normalize rescales them.
func NewManager(contributions []contrib.Contribution, weights map[string]float64) (*Manager, error) {
	if len(contributions) == 0 {
		return nil, ErrNoContributions
	}
	m := &Manager{contributions: contributions, weights: map[string]float64{}}
	for _, c := range contributions {
		w, ok := weights[c.Name()]
		if !ok {
			w = 0
		}
		m.weights[c.Name()] = w
	}
	m.normalize()
	return m, nil
}

// normalize rescales m.weights so they sum to 1. A zero-sum input
// (every weight 0 or unset) falls back to an equal split.
func (m *Manager) normalize() {
	var sum float64
	for _, w := range m.weights {
		sum += w
	}
	if sum <= 0 {
		equal := 1.0 / float64(len(m.weights))
		for name := range m.weights {
			m.weights[name] = equal
		}
		return
	}
	for name, w := range m.weights {
		m.weights[name] = w / sum
	}
}

// Weight returns the normalized weight of the named contribution.
func (m *Manager) Weight(name string) float64 { return m.weights[name] }

// SetCollectors wires the per-contribution index histogram; nil (the
// default) disables observation.
func (m *Manager) SetCollectors(c *metrics.Collectors) { m.metrics = c }

func (m *Manager) observe(name string, v float64) {
	if m.metrics != nil {
		m.metrics.ContributionIndex.WithLabelValues(name).Observe(v)
	}
}

// PrepareRound primes every contribution with the round's accounter and
// candidate view, and runs any one-time per-priority fairness setup.
func (m *Manager) PrepareRound(apps *app.Manager, acc *accounter.Accounter, view restree.ViewToken) error {
	ctx := contrib.RoundContext{Acc: acc, View: view}
	for _, c := range m.contributions {
		c.SetContext(ctx)
		if fi, ok := c.(contrib.FairnessInitializer); ok {
			if err := fi.InitFairness(apps); err != nil {
				return errors.Wrapf(err, "sched: initializing %s", c.Name())
			}
		}
	}
	return nil
}

// BaseMetric computes the binding-independent part of the aggregate
// index for e: Σ w_i · contribution_i(e) over every contribution that
// does not need a binding choice.
func (m *Manager) BaseMetric(e contrib.Entity) (float64, error) {
	var sum float64
	for _, c := range m.contributions {
		if c.BindingDependent() {
			continue
		}
		v, err := c.Compute(e)
		if err != nil {
			return 0, errors.Wrapf(err, "sched: computing %s", c.Name())
		}
		m.observe(c.Name(), v)
		sum += m.weights[c.Name()] * v
	}
	return sum, nil
}

// FullMetric computes the spec's "full_metric": the average of the base
// metric and the binding-dependent contributions evaluated against e's
// concrete binding, per spec.md §4.4's
// `(base_metric + Σ w_j · binding_dependent_j(entity)) / 2`.
func (m *Manager) FullMetric(base float64, e contrib.Entity) (float64, error) {
	var sum float64
	for _, c := range m.contributions {
		if !c.BindingDependent() {
			continue
		}
		v, err := c.Compute(e)
		if err != nil {
			return 0, errors.Wrapf(err, "sched: computing %s", c.Name())
		}
		m.observe(c.Name(), v)
		sum += m.weights[c.Name()] * v
	}
	return (base + sum) / 2, nil
}

// Index computes the full aggregate index for e in one call, for
// callers (tests, non-binding-aware policies) that do not need the
// base/full split.
func (m *Manager) Index(e contrib.Entity) (float64, error) {
	base, err := m.BaseMetric(e)
	if err != nil {
		return 0, err
	}
	if !e.HasBinding() {
		return base, nil
	}
	return m.FullMetric(base, e)
}

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

// Package metrics collects and exposes the runtime's own operational
// metrics through a prometheus.Gatherer: scheduling-round duration,
// per-contribution index distributions, synchronization-phase latency and
// miss counts, and the number of views currently open in the accounter.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rtrm"

// Collectors bundles every metric the rest of the system reports into, so
// callers only need to thread one value through the scheduler, the
// synchronization manager and the accounter.
type Collectors struct {
	ScheduleRoundDuration prometheus.Histogram
	ContributionIndex     *prometheus.HistogramVec
	SyncPhaseDuration     *prometheus.HistogramVec
	SyncMisses            *prometheus.CounterVec
	OpenViews             prometheus.Gauge
}

// NewCollectors builds an unregistered set of collectors.
func NewCollectors() *Collectors {
	return &Collectors{
		ScheduleRoundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sched",
			Name:      "round_duration_seconds",
			Help:      "Time taken by one scheduling policy round.",
			Buckets:   prometheus.DefBuckets,
		}),
		ContributionIndex: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sched",
			Name:      "contribution_index",
			Help:      "Distribution of per-contribution indices computed during scheduling.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}, []string{"contribution"}),
		SyncPhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "syncmgr",
			Name:      "phase_duration_seconds",
			Help:      "Time taken by each phase of the synchronization protocol.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
		SyncMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "syncmgr",
			Name:      "sync_misses_total",
			Help:      "Number of synchronization misses, by phase.",
		}, []string{"phase"}),
		OpenViews: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "accounter",
			Name:      "open_views",
			Help:      "Number of resource tree views currently allocated.",
		}),
	}
}

// MustRegister registers every collector against reg.
func (c *Collectors) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		c.ScheduleRoundDuration,
		c.ContributionIndex,
		c.SyncPhaseDuration,
		c.SyncMisses,
		c.OpenViews,
	)
}

// NewRegistry builds a pedantic registry with c already registered,
// suitable for exposing through an HTTP handler.
func NewRegistry(c *Collectors) *prometheus.Registry {
	reg := prometheus.NewPedanticRegistry()
	c.MustRegister(reg)
	return reg
}

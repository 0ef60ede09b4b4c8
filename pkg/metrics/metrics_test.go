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

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorsRegisterAndGather(t *testing.T) {
	c := NewCollectors()
	reg := NewRegistry(c)

	c.ScheduleRoundDuration.Observe(0.05)
	c.ContributionIndex.WithLabelValues("fairness").Observe(0.8)
	c.SyncPhaseDuration.WithLabelValues("pre-change").Observe(0.01)
	c.SyncMisses.WithLabelValues("do-change").Inc()
	c.OpenViews.Set(3)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatalf("expected at least one metric family after observing")
	}

	if got := testutil.ToFloat64(c.OpenViews); got != 3 {
		t.Fatalf("expected OpenViews to read 3, got %f", got)
	}
}

func TestMustRegisterPanicsOnDuplicate(t *testing.T) {
	c := NewCollectors()
	reg := NewRegistry(c)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic when registering the same collectors twice")
		}
	}()
	c.MustRegister(reg)
}

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

// Package app implements the application lifecycle and AWM state machine:
// per-application registration, dynamic constraint sets, and the
// disabled/ready/sync/running/finished progression with its synchronization
// sub-state.
package app

// State is the top-level lifecycle state of an application.
type State int

const (
	// Disabled applications are registered but not participating in
	// scheduling.
	Disabled State = iota
	// Ready applications are waiting for a scheduling decision.
	Ready
	// Sync applications are in the four-phase synchronization protocol.
	Sync
	// Running applications have an active, committed AWM.
	Running
	// Finished applications have been terminated; only Enable moves them
	// on, back to READY.
	Finished
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "DISABLED"
	case Ready:
		return "READY"
	case Sync:
		return "SYNC"
	case Running:
		return "RUNNING"
	case Finished:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

// SyncState is the synchronization sub-state, meaningful only while
// State == Sync.
type SyncState int

const (
	// SyncNone is the sentinel sub-state for applications not in SYNC.
	SyncNone SyncState = iota
	// SyncStarting is the first-ever scheduling of a just-enabled application.
	SyncStarting
	// SyncReconf is a same-binding-domain-set change of AWM.
	SyncReconf
	// SyncMigrec is a change of AWM together with a change of CPU binding.
	SyncMigrec
	// SyncMigrate is a same-AWM change of CPU binding.
	SyncMigrate
	// SyncBlocked is a pending unschedule.
	SyncBlocked
)

func (s SyncState) String() string {
	switch s {
	case SyncNone:
		return "NONE"
	case SyncStarting:
		return "STARTING"
	case SyncReconf:
		return "RECONF"
	case SyncMigrec:
		return "MIGREC"
	case SyncMigrate:
		return "MIGRATE"
	case SyncBlocked:
		return "BLOCKED"
	default:
		return "UNKNOWN"
	}
}

// LowestPriority is the least-favored priority value an application may
// hold; priority 0 is the most favored.
const LowestPriority = 19

func clampPriority(p int) int {
	if p < 0 {
		return 0
	}
	if p > LowestPriority {
		return LowestPriority
	}
	return p
}

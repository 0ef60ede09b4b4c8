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
	"github.com/pkg/errors"

	"github.com/bbqrtrm/rtrm/pkg/accounter"
	"github.com/bbqrtrm/rtrm/pkg/recipe"
	"github.com/bbqrtrm/rtrm/pkg/restree"
)

// ScheduleRequest asks the application to move to awmID, bound via ref's
// recorded candidate binding, within view. On success it books the
// resources, records next_awm and transitions toward SYNC with the
// sync-state implied by comparing the current and candidate bindings.
//
// A request is rejected outright (Conflict) while DISABLED: the caller must
// re-enable the application first.
func (a *Application) ScheduleRequest(awmID int, ref recipe.BindingRef, view restree.ViewToken) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == Disabled {
		return errors.Wrapf(ErrConflict, "%s: schedule_request while DISABLED", a.id)
	}
	if a.state == Finished {
		return errors.Wrapf(ErrConflict, "%s: schedule_request while FINISHED", a.id)
	}

	candidate, ok := a.workingModes[awmID]
	if !ok {
		return errors.Wrapf(ErrUnknownAWM, "%s: awm %d", a.id, awmID)
	}
	binding, ok := candidate.CandidateBinding(ref)
	if !ok {
		return errors.Errorf("%s: no candidate binding recorded for awm %d at %v", a.id, awmID, ref)
	}

	// A pending BLOCKED request is superseded by a fresh schedule request:
	// fall back to the state the application was in before it started
	// blocking and proceed as a normal request from there.
	if a.state == Sync && a.syncState == SyncBlocked {
		a.state = a.preSyncState
		a.syncState = SyncNone
	}

	// When the candidate is the same working mode the application already
	// runs in, SetCommittedBinding below overwrites the binding in place;
	// hold on to the currently committed one for the reshuffling check.
	var prevResolved accounter.Resolved
	if a.currentAWM != nil {
		prevResolved = a.currentAWM.CommittedBinding
	}

	assign := candidate.AssignmentMap(binding)
	resolved, err := a.acc.BookResources(a.id.ResourceID(), assign, view, true)
	if err != nil {
		return errors.Wrapf(err, "%s: booking awm %d", a.id, awmID)
	}
	candidate.SetCommittedBinding(resolved)

	sync := a.syncRequired(candidate, ref, prevResolved)
	if sync == SyncNone {
		// Nothing actually changes: keep running whatever is current.
		return nil
	}

	a.nextAWM = candidate
	a.nextBindingRef = ref
	a.preSyncState = a.state
	a.state = Sync
	a.syncState = sync
	log.Info("%s: schedule_request accepted, awm=%d sync=%s", a.id, awmID, sync)
	return nil
}

// syncRequired classifies the transition by comparing the current and
// candidate AWM id and CPU binding set. prevResolved is the committed
// binding the application was running with before this request booked
// (the candidate may be the very same working-mode object).
func (a *Application) syncRequired(candidate *recipe.AWM, ref recipe.BindingRef, prevResolved accounter.Resolved) SyncState {
	if a.currentAWM == nil {
		return SyncStarting
	}

	sameAWM := a.currentAWM.ID == candidate.ID
	curBinding, _ := a.currentAWM.CandidateBinding(a.currentBindingRef)
	nextBinding, _ := candidate.CandidateBinding(ref)
	curCPUs := recipe.CPUBindingSet(curBinding)
	nextCPUs := recipe.CPUBindingSet(nextBinding)
	sameCPUSet := equalStringSets(curCPUs, nextCPUs)

	switch {
	case !sameAWM && !sameCPUSet:
		return SyncMigrec
	case sameAWM && !sameCPUSet:
		return SyncMigrate
	case !sameAWM:
		return SyncReconf
	case accounter.IsReshuffling(prevResolved, candidate.CommittedBinding):
		return SyncReconf
	default:
		return SyncNone
	}
}

func equalStringSets(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

// Unschedule requests that the application be blocked: idempotent if it is
// already heading there.
func (a *Application) Unschedule() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == Sync && a.syncState == SyncBlocked {
		return nil
	}
	a.preSyncState = a.state
	a.state = Sync
	a.syncState = SyncBlocked
	log.Info("%s: unschedule requested", a.id)
	return nil
}

// ScheduleCommit promotes next_awm to current_awm and bumps the schedule
// counter. If the application was blocking, it clears both AWMs and moves
// to READY instead. A commit racing a meanwhile-FINISHED application is
// silently dropped.
func (a *Application) ScheduleCommit() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == Finished {
		return nil
	}
	if a.state != Sync {
		return errors.Wrapf(ErrConflict, "%s: schedule_commit outside SYNC", a.id)
	}

	if a.syncState == SyncBlocked {
		a.currentAWM = nil
		a.nextAWM = nil
		a.state = Ready
		a.syncState = SyncNone
		log.Info("%s: commit(BLOCKED) -> READY", a.id)
		return nil
	}

	a.currentAWM = a.nextAWM
	a.currentBindingRef = a.nextBindingRef
	a.nextAWM = nil
	a.scheduleCount++
	a.state = Running
	a.syncState = SyncNone
	a.currentInvalid = false
	log.Info("%s: schedule_commit -> RUNNING awm=%d count=%d", a.id, a.currentAWM.ID, a.scheduleCount)
	return nil
}

// ScheduleAbort returns a synchronizing application to READY, dropping both
// AWMs. Legal only in SYNC.
func (a *Application) ScheduleAbort() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != Sync {
		return errors.Wrapf(ErrConflict, "%s: schedule_abort outside SYNC", a.id)
	}
	a.currentAWM = nil
	a.nextAWM = nil
	a.state = Ready
	a.syncState = SyncNone
	log.Warn("%s: schedule_abort -> READY", a.id)
	return nil
}

// ScheduleContinue asserts current_awm == next_awm and clears next_awm,
// i.e. a no-op reschedule that was accepted but produced no transition.
// Legal only in RUNNING.
func (a *Application) ScheduleContinue() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != Running {
		return errors.Wrapf(ErrConflict, "%s: schedule_continue outside RUNNING", a.id)
	}
	if a.nextAWM != nil && a.currentAWM != nil && a.nextAWM.ID != a.currentAWM.ID {
		return errors.Errorf("%s: schedule_continue invariant violated: current=%d next=%d",
			a.id, a.currentAWM.ID, a.nextAWM.ID)
	}
	a.nextAWM = nil
	return nil
}

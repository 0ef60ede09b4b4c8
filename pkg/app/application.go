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
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/bbqrtrm/rtrm/pkg/accounter"
	logger "github.com/bbqrtrm/rtrm/pkg/log"
	"github.com/bbqrtrm/rtrm/pkg/recipe"
	"github.com/bbqrtrm/rtrm/pkg/restree"
)

var log = logger.Get("app")

// Errors returned by the lifecycle and scheduling operations below. They
// are returned as-is (wrapped with context via pkg/errors), no state
// change happens alongside them.
var (
	ErrConflict       = errors.New("app: operation not valid in the current state")
	ErrUnknownAWM     = errors.New("app: no such AWM id in the adopted recipe")
	ErrNotAdopted     = errors.New("app: no recipe adopted yet")
)

// ID identifies an application by ⟨process id, execution-context id⟩, the
// same shape the accounter's AppID is opaque over.
type ID struct {
	PID int64
	EXC uint8
}

func (id ID) String() string { return fmt.Sprintf("%d:%d", id.PID, id.EXC) }

// ResourceID turns id into the opaque accounter.AppID it is booked under.
func (id ID) ResourceID() restree.AppID { return restree.AppID(id.String()) }

// Application is one long-lived, concurrently executing client of the
// resource manager: its lifecycle, its adopted recipe, its dynamic
// constraints and its current/next AWM. Every exported method that reads or
// mutates the schedule state block takes mu; methods never call back into
// another locking exported method while already holding it.
type Application struct {
	mu sync.Mutex

	id        ID
	name      string
	priority  int
	language  string
	container bool

	acc *accounter.Accounter

	recipe       *recipe.Recipe
	workingModes map[int]*recipe.AWM // app-private clones, keyed by AWM id
	constraints  *constraintSet
	enabledList  []*recipe.AWM // app-private clones, filtered+sorted

	state         State
	preSyncState  State
	syncState     SyncState
	currentAWM    *recipe.AWM
	nextAWM       *recipe.AWM
	currentBindingRef recipe.BindingRef
	nextBindingRef     recipe.BindingRef
	scheduleCount uint64
	goalGap       int
	cpuUsagePct   int
	cycleTimeMs   int
	currentInvalid bool
}

// New creates a DISABLED application with no recipe adopted yet.
func New(id ID, name string, priority int, language string, container bool, acc *accounter.Accounter) *Application {
	return &Application{
		id:          id,
		name:        name,
		priority:    clampPriority(priority),
		language:    language,
		container:   container,
		acc:         acc,
		constraints: newConstraintSet(),
		state:       Disabled,
		syncState:   SyncNone,
	}
}

// ID returns the application's identity.
func (a *Application) ID() ID { return a.id }

// Name returns the application's descriptive name.
func (a *Application) Name() string { return a.name }

// Priority returns the application's scheduling priority (lower is higher).
func (a *Application) Priority() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.priority
}

// AdoptRecipe binds r to the application, cloning every AWM template into a
// private working copy and rebuilding the enabled list. Valid only while
// DISABLED.
func (a *Application) AdoptRecipe(r *recipe.Recipe) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Disabled {
		return errors.Wrapf(ErrConflict, "cannot adopt a recipe while %s", a.state)
	}
	a.recipe = r
	a.workingModes = make(map[int]*recipe.AWM, len(r.AWMs))
	for _, tmpl := range r.AWMs {
		a.workingModes[tmpl.ID] = tmpl.Clone()
	}
	a.refreshHiddenLocked()
	a.rebuildEnabledListLocked()
	return nil
}

// refreshHiddenLocked hides every working mode whose requests exceed the
// platform's total capacity for the requested resource class: no binding
// could ever satisfy it, so policies must not see it.
func (a *Application) refreshHiddenLocked() {
	for _, awm := range a.workingModes {
		hidden := false
		for path, amount := range awm.Requests {
			parsed, err := restree.ParsePath(path)
			if err != nil || len(parsed) == 0 {
				continue
			}
			leaf := parsed[len(parsed)-1].Type
			if a.acc.TotalByType(leaf) < amount {
				hidden = true
				break
			}
		}
		awm.Hidden = hidden
	}
}

// State returns the application's current lifecycle state.
func (a *Application) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// SyncState returns the application's synchronization sub-state; only
// meaningful when State() == Sync.
func (a *Application) SyncState() SyncState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.syncState
}

// PreSyncState returns the state the application was in when it entered SYNC.
func (a *Application) PreSyncState() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.preSyncState
}

// CurrentAWM returns the AWM committed to the running application, or nil.
func (a *Application) CurrentAWM() *recipe.AWM {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentAWM
}

// NextAWM returns the AWM proposed by the last accepted schedule request, or nil.
func (a *Application) NextAWM() *recipe.AWM {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nextAWM
}

// CurrentBindingRef returns the binding ref the running application was
// last accepted against.
func (a *Application) CurrentBindingRef() recipe.BindingRef {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentBindingRef
}

// NextBindingRef returns the binding ref of the pending schedule request.
func (a *Application) NextBindingRef() recipe.BindingRef {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nextBindingRef
}

// ScheduleCount returns the monotonic schedule counter.
func (a *Application) ScheduleCount() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scheduleCount
}

// GoalGapPercent returns the last reported performance gap hint.
func (a *Application) GoalGapPercent() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.goalGap
}

// SetGoalGapPercent records an application-reported performance gap hint,
// consumed by the value contribution on the next policy round.
func (a *Application) SetGoalGapPercent(gap int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.goalGap = gap
}

// CPUUsagePercent returns the last runtime-profile-reported CPU usage.
func (a *Application) CPUUsagePercent() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cpuUsagePct
}

// CycleTimeMillis returns the last runtime-profile-reported cycle time.
func (a *Application) CycleTimeMillis() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cycleTimeMs
}

// SetRuntimeProfile records the full EXC_RTNOTIFY payload: the goal-gap
// hint alongside the CPU usage and cycle-time telemetry the value
// contribution also takes into account.
func (a *Application) SetRuntimeProfile(gapPercent, cpuUsagePercent, cycleTimeMillis int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.goalGap = gapPercent
	a.cpuUsagePct = cpuUsagePercent
	a.cycleTimeMs = cycleTimeMillis
}

// CurrentInvalid reports whether the currently scheduled AWM has since
// become disabled by a constraint change, and so must be revisited by the
// next policy round.
func (a *Application) CurrentInvalid() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentInvalid
}

// Terminate forces FINISHED from any state, the terminal transition of
// the lifecycle diagram: once called, Enable is the only way out and it
// leaves the application straight back in READY with no current or next
// AWM; the adopted recipe and constraints are kept. Callers are responsible for releasing whatever the
// application still holds in the live view beforehand (the accounter and
// the platform proxy are reached through the application manager, not
// through Application itself).
func (a *Application) Terminate() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = Finished
	a.syncState = SyncNone
	a.currentAWM = nil
	a.nextAWM = nil
	log.Info("%s: terminated", a.id)
	return nil
}

// Enable transitions DISABLED or FINISHED -> READY.
func (a *Application) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Disabled && a.state != Finished {
		return errors.Wrapf(ErrConflict, "cannot enable from %s", a.state)
	}
	a.state = Ready
	log.Info("%s: enabled", a.id)
	return nil
}

// Disable clears any working modes and forces DISABLED from any
// non-disabled state.
func (a *Application) Disable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == Disabled {
		return nil
	}
	a.state = Disabled
	a.syncState = SyncNone
	a.currentAWM = nil
	a.nextAWM = nil
	log.Info("%s: disabled", a.id)
	return nil
}

// EnabledList returns the application's current enabled-AWM list, sorted by
// normalized value ascending, skipping hidden and constraint-violating AWMs.
func (a *Application) EnabledList() []*recipe.AWM {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*recipe.AWM, len(a.enabledList))
	copy(out, a.enabledList)
	return out
}

func (a *Application) rebuildEnabledListLocked() {
	if a.recipe == nil {
		return
	}
	templates := a.constraints.rebuildEnabledList(a.recipe)
	enabled := make([]*recipe.AWM, 0, len(templates))
	for _, tmpl := range templates {
		wm := a.workingModes[tmpl.ID]
		if wm == nil || wm.Hidden {
			continue
		}
		enabled = append(enabled, wm)
	}
	a.enabledList = enabled

	if a.currentAWM != nil {
		stillEnabled := false
		for _, awm := range enabled {
			if awm.ID == a.currentAWM.ID {
				stillEnabled = true
				break
			}
		}
		a.currentInvalid = !stillEnabled
	}
}

// SetLowerBound constrains the enabled AWM id range from below.
func (a *Application) SetLowerBound(k int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.constraints.SetLowerBound(k)
	a.rebuildEnabledListLocked()
}

// ClearLowerBound removes the lower AWM id bound.
func (a *Application) ClearLowerBound() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.constraints.ClearLowerBound()
	a.rebuildEnabledListLocked()
}

// SetUpperBound constrains the enabled AWM id range from above.
func (a *Application) SetUpperBound(k int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.constraints.SetUpperBound(k)
	a.rebuildEnabledListLocked()
}

// ClearUpperBound removes the upper AWM id bound.
func (a *Application) ClearUpperBound() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.constraints.ClearUpperBound()
	a.rebuildEnabledListLocked()
}

// ToggleExact flips whether AWM id k is enabled regardless of the range bounds.
func (a *Application) ToggleExact(k int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.constraints.ToggleExact(k)
	a.rebuildEnabledListLocked()
}

// SetResourceBound constrains the amount any enabled AWM may request at path.
func (a *Application) SetResourceBound(path string, bound recipe.ResourceBound) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.constraints.SetResourceBound(path, bound)
	a.rebuildEnabledListLocked()
}

// ClearResourceBound removes a per-path resource constraint.
func (a *Application) ClearResourceBound(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.constraints.ClearResourceBound(path)
	a.rebuildEnabledListLocked()
}

// ClearAllConstraints drops every AWM range/exact toggle and every
// per-path resource bound in one call (EXC_CLEAR), then rebuilds the
// enabled list once rather than once per constraint family.
func (a *Application) ClearAllConstraints() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.constraints = newConstraintSet()
	a.rebuildEnabledListLocked()
}

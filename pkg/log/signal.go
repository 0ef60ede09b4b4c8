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

package log

import (
	"os"
	"os/signal"
)

var toggleSignals chan os.Signal

// SetupDebugToggleSignal arranges for sig to flip every source's debug
// logging on/off, without requiring a restart to chase down a transient
// scheduling or synchronization issue.
func SetupDebugToggleSignal(sig os.Signal) {
	ClearDebugToggleSignal()

	toggleSignals = make(chan os.Signal, 1)
	signal.Notify(toggleSignals, sig)

	go func(ch <-chan os.Signal) {
		forced := false
		state := map[bool]string{false: "off", true: "on"}
		deflog := Get("log")
		for range ch {
			forced = !forced
			mutex.Lock()
			debugSrc[""] = forced
			mutex.Unlock()
			deflog.Warn("forced full debugging is now %s...", state[forced])
		}
	}(toggleSignals)
}

// ClearDebugToggleSignal removes any signal handler installed by
// SetupDebugToggleSignal.
func ClearDebugToggleSignal() {
	if toggleSignals != nil {
		signal.Stop(toggleSignals)
		close(toggleSignals)
		toggleSignals = nil
	}
}

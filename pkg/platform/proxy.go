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

// Package platform defines the PlatformProxy contract: the narrow
// interface through which the synchronization manager reaches
// platform-specific resource enforcement (cgroups, accelerator drivers),
// without the core ever depending on a specific backend.
package platform

import (
	"github.com/bbqrtrm/rtrm/pkg/accounter"
	"github.com/bbqrtrm/rtrm/pkg/restree"
)

// Proxy is the platform enforcement contract of spec.md §6.
type Proxy interface {
	// LoadPlatformData registers every resource the platform exposes
	// into tree, called once at startup.
	LoadPlatformData(tree *restree.Tree) error
	// Setup prepares per-application enforcement state, called the
	// first time an application enters SYNC(STARTING).
	Setup(app restree.AppID) error
	// MapResources applies assign at the hardware level for app.
	// Exclusive marks an allocation that must not be shared with any
	// other application (e.g. isolated CPUs).
	MapResources(app restree.AppID, assign accounter.AssignmentMap, exclusive bool) error
	// ReclaimResources reverts whatever MapResources last applied for app.
	ReclaimResources(app restree.AppID) error
	// Release disposes of all per-application enforcement state.
	Release(app restree.AppID) error
	// Refresh signals that platform availabilities may have changed and
	// the next LoadPlatformData should reconcile them.
	Refresh() error
}

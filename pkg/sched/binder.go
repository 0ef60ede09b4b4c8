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
	"strings"

	"github.com/bbqrtrm/rtrm/pkg/recipe"
	"github.com/bbqrtrm/rtrm/pkg/restree"
)

// BindCPU resolves every recipe-relative request path of awm onto the
// package identified by cpuID: a path ending in the processing-element
// domain binds to that package's own processing element (this repo
// pairs one PE per CPU package, the smallest topology that exercises
// the rest of the system end to end); any other request path binds to
// the system-wide resource of the same type, since only CPU/PE requests
// are cluster-local in this simplified binder. A production binder
// would instead walk the platform's actual cluster topology.
func BindCPU(awm *recipe.AWM, sysID, cpuID int) recipe.CandidateBinding {
	binding := make(recipe.CandidateBinding, len(awm.Requests))
	for path := range awm.Requests {
		parts := strings.Split(path, ".")
		leaf := restree.Type(parts[len(parts)-1])
		switch leaf {
		case restree.TypePE, restree.TypeCPU:
			binding[path] = restree.Path{
				{Type: restree.TypeSystem, ID: sysID},
				{Type: restree.TypeCPU, ID: cpuID},
				{Type: restree.TypePE, ID: cpuID},
			}
		default:
			binding[path] = restree.Path{
				{Type: restree.TypeSystem, ID: sysID},
				{Type: leaf, ID: restree.None},
			}
		}
	}
	return binding
}

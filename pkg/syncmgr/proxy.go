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

package syncmgr

import (
	"context"

	"github.com/bbqrtrm/rtrm/pkg/app"
	"github.com/bbqrtrm/rtrm/pkg/recipe"
)

// ApplicationProxy is the synchronization manager's view of the RPC
// dispatch layer: just enough to drive the four named phases against one
// application, without importing pkg/rpcproxy directly (pkg/rpcproxy in
// turn depends on pkg/app, so the dependency would otherwise cycle back
// through whichever package wires the two together).
type ApplicationProxy interface {
	// PreChange notifies a of the next AWM and solicits a sync-latency
	// estimate in milliseconds.
	PreChange(ctx context.Context, a *app.Application, next *recipe.AWM) (latencyEstimateMs int, err error)
	// SyncChange blocks until a signals it has reached a safe
	// synchronization point.
	SyncChange(ctx context.Context, a *app.Application) error
	// DoChange is fire-and-forget: tell a to commit to the next AWM.
	DoChange(ctx context.Context, a *app.Application) error
	// PostChange waits for a's reconfiguration-complete acknowledgement.
	PostChange(ctx context.Context, a *app.Application) error
}

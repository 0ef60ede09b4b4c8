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

package rpcproxy

import (
	"sync"

	"github.com/bbqrtrm/rtrm/pkg/app"
)

// Connection is the per-application transport context: the application
// proxy never talks to a raw socket directly, only through the Transport
// its connection was paired over.
type Connection struct {
	App       app.ID
	Transport Transport
}

// ConnectionTable maps an application pid to its connection context, the
// RPC proxy's second independent lock (spec.md §5), taken strictly after
// SessionTable's in the documented lock order.
type ConnectionTable struct {
	mu    sync.RWMutex
	byPID map[int64]*Connection
}

// NewConnectionTable creates an empty connection table.
func NewConnectionTable() *ConnectionTable {
	return &ConnectionTable{byPID: map[int64]*Connection{}}
}

// Pair records a new connection for an application pid, e.g. on APP_PAIR.
func (t *ConnectionTable) Pair(appID app.ID, tr Transport) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byPID[appID.PID] = &Connection{App: appID, Transport: tr}
}

// Lookup returns the connection for pid, if any.
func (t *ConnectionTable) Lookup(pid int64) (*Connection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.byPID[pid]
	return c, ok
}

// Drop removes pid's connection, e.g. on APP_EXIT.
func (t *ConnectionTable) Drop(pid int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byPID, pid)
}

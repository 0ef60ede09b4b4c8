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
	"context"

	logger "github.com/bbqrtrm/rtrm/pkg/log"

	"github.com/bbqrtrm/rtrm/pkg/app"
)

var log = logger.Get("rpcproxy")

// RequestHandler fans requests out to the application manager. Every
// method is called from a short-lived executor goroutine, never from the
// dispatcher's own poll loop.
type RequestHandler interface {
	Pair(appID app.ID) error
	Exit(appID app.ID) error
	Register(appID app.ID, name, recipePath, language string) error
	Unregister(appID app.ID) error
	Start(appID app.ID) error
	Stop(appID app.ID) error
	Schedule(appID app.ID) error
	SetConstraint(appID app.ID, path string, lower, upper uint64) error
	ClearConstraints(appID app.ID) error
	RuntimeNotify(appID app.ID, gap, cpuUsage, cycleTimeMs int) error
}

// responseTypes are the message types routed to a waiting command session
// rather than fanned out to the request handler.
var responseTypes = map[MessageType]bool{
	SyncPreChangeResp:  true,
	SyncChangeResp:     true,
	SyncDoChangeResp:   true,
	SyncPostChangeResp: true,
	BbqGetProfileResp:  true,
}

// Dispatcher is the worker loop of spec.md §4.6: it repeatedly polls
// transport, classifies each message by type, and either fans a request
// out to handler or routes a response to its waiting command session.
type Dispatcher struct {
	transport Transport
	sessions  *SessionTable
	handler   RequestHandler
}

// NewDispatcher creates a dispatcher over transport.
func NewDispatcher(transport Transport, sessions *SessionTable, handler RequestHandler) *Dispatcher {
	return &Dispatcher{transport: transport, sessions: sessions, handler: handler}
}

// Run polls transport until ctx is done, fanning out one goroutine per
// inbound message so a slow handler never stalls the poll loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		msg, err := d.transport.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("dispatcher: recv failed: %v", err)
			continue
		}
		if responseTypes[msg.Type] {
			if err := d.sessions.Complete(msg); err != nil {
				log.Debug("dispatcher: %v", err)
			}
			continue
		}
		go d.handleRequest(msg)
	}
}

func (d *Dispatcher) handleRequest(msg Message) {
	appID := app.ID{PID: msg.AppPID, EXC: msg.EXC}
	var err error
	switch msg.Type {
	case AppPair:
		err = d.handler.Pair(appID)
	case AppExit:
		err = d.handler.Exit(appID)
	case ExcRegister:
		err = d.handler.Register(appID, msg.Name, msg.RecipePath, msg.Language)
	case ExcUnregister:
		err = d.handler.Unregister(appID)
	case ExcStart:
		err = d.handler.Start(appID)
	case ExcStop:
		err = d.handler.Stop(appID)
	case ExcSchedule:
		err = d.handler.Schedule(appID)
	case ExcSet:
		err = d.handler.SetConstraint(appID, msg.ConstraintPath, msg.ConstraintLower, msg.ConstraintUpper)
	case ExcClear:
		err = d.handler.ClearConstraints(appID)
	case ExcRTNotify:
		err = d.handler.RuntimeNotify(appID, msg.GoalGap, msg.CPUUsage, msg.CycleTimeMs)
	default:
		log.Warn("dispatcher: unhandled request type %s from %s", msg.Type, appID)
		return
	}
	if err != nil {
		log.Warn("dispatcher: %s %s failed: %v", appID, msg.Type, err)
	}
}

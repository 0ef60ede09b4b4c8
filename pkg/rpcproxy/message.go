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

// Package rpcproxy implements the application proxy: the RPC dispatch
// layer between the resource manager and the application runtime library.
// A single dispatcher goroutine polls the transport; request messages fan
// out to the application manager, response messages are routed back to
// the command session that is waiting for them.
package rpcproxy

// MessageType is the wire message discriminator of spec.md §6's
// conceptual RPC protocol.
type MessageType uint8

// The closed set of request/response message types.
const (
	AppPair MessageType = iota
	AppExit
	ExcRegister
	ExcUnregister
	ExcStart
	ExcStop
	ExcSchedule
	ExcSet
	ExcClear
	ExcRTNotify
	BbqStopExecution
	BbqGetProfile
	BbqGetProfileResp

	SyncPreChange
	SyncPreChangeResp
	SyncChange
	SyncChangeResp
	SyncDoChange
	SyncDoChangeResp
	SyncPostChange
	SyncPostChangeResp
)

func (t MessageType) String() string {
	switch t {
	case AppPair:
		return "APP_PAIR"
	case AppExit:
		return "APP_EXIT"
	case ExcRegister:
		return "EXC_REGISTER"
	case ExcUnregister:
		return "EXC_UNREGISTER"
	case ExcStart:
		return "EXC_START"
	case ExcStop:
		return "EXC_STOP"
	case ExcSchedule:
		return "EXC_SCHEDULE"
	case ExcSet:
		return "EXC_SET"
	case ExcClear:
		return "EXC_CLEAR"
	case ExcRTNotify:
		return "EXC_RTNOTIFY"
	case BbqStopExecution:
		return "BBQ_STOP_EXECUTION"
	case BbqGetProfile:
		return "BBQ_GET_PROFILE"
	case BbqGetProfileResp:
		return "BBQ_GET_PROFILE_RESP"
	case SyncPreChange:
		return "BBQ_SYNCP_PRECHANGE"
	case SyncPreChangeResp:
		return "BBQ_SYNCP_PRECHANGE_RESP"
	case SyncChange:
		return "BBQ_SYNCP_SYNCCHANGE"
	case SyncChangeResp:
		return "BBQ_SYNCP_SYNCCHANGE_RESP"
	case SyncDoChange:
		return "BBQ_SYNCP_DOCHANGE"
	case SyncDoChangeResp:
		return "BBQ_SYNCP_DOCHANGE_RESP"
	case SyncPostChange:
		return "BBQ_SYNCP_POSTCHANGE"
	case SyncPostChangeResp:
		return "BBQ_SYNCP_POSTCHANGE_RESP"
	default:
		return "UNKNOWN"
	}
}

// Message is the fixed-header record of spec.md §6: every field beyond the
// header is optional payload, populated according to Type. Message framing
// itself is outside this package's remit (see pkg/rpcproxy/transport); a
// Message is always a complete, already-delimited record by the time it
// reaches the dispatcher.
type Message struct {
	Type  MessageType
	Token string
	AppPID int64
	EXC    uint8

	// EXC_REGISTER payload.
	Name       string
	RecipePath string
	Language   string

	// EXC_RTNOTIFY payload.
	GoalGap     int
	CPUUsage    int
	CycleTimeMs int

	// EXC_SET payload: one resource-bound constraint per entry.
	ConstraintPath  string
	ConstraintLower uint64
	ConstraintUpper uint64

	// BBQ_SYNCP_PRECHANGE payload.
	AWMID              int
	SyncLatencyEstimate int

	// BBQ_STOP_EXECUTION payload.
	TimeoutMs int

	// Carried on every *_RESP and on error replies.
	ErrorMessage string
}

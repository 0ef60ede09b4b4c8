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

import "context"

// Transport is the message-delivery contract the dispatcher polls.
// Message framing and the underlying byte transport are outside this
// spec; a Transport implementation is responsible for delivering complete,
// already-parsed records. pkg/rpcproxy/transport ships one concrete,
// minimal implementation over encoding/gob for the reference system to be
// end-to-end runnable.
type Transport interface {
	// Send writes msg, blocking until it is handed to the underlying
	// channel or an error occurs.
	Send(msg Message) error
	// Recv blocks until a message arrives or ctx is done.
	Recv(ctx context.Context) (Message, error)
}

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

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/bbqrtrm/rtrm/pkg/app"
)

// ErrUnknownSession is returned when a response carries a token with no
// matching outstanding command session.
var ErrUnknownSession = errors.New("rpcproxy: unknown command session token")

// CommandSession is the state bundle for one outstanding RPC call: the
// owning application, and a one-shot reply channel the dispatcher
// delivers the matching response message to.
type CommandSession struct {
	App   app.ID
	reply chan Message
}

// SessionTable is the token -> CommandSession map, one of the RPC proxy's
// two independent locks (spec.md §5).
type SessionTable struct {
	mu       sync.Mutex
	sessions map[string]*CommandSession
}

// NewSessionTable creates an empty session table.
func NewSessionTable() *SessionTable {
	return &SessionTable{sessions: map[string]*CommandSession{}}
}

// Open registers a new command session for app, returning its token and a
// channel that receives exactly one response message.
func (t *SessionTable) Open(appID app.ID) (string, <-chan Message) {
	token := uuid.NewString()
	cs := &CommandSession{App: appID, reply: make(chan Message, 1)}

	t.mu.Lock()
	t.sessions[token] = cs
	t.mu.Unlock()

	return token, cs.reply
}

// Complete routes msg to the session named by msg.Token and releases the
// session. It is a no-op (but reports ErrUnknownSession) for a token that
// was already completed or never existed, e.g. a response arriving after
// its phase already timed out.
func (t *SessionTable) Complete(msg Message) error {
	t.mu.Lock()
	cs, ok := t.sessions[msg.Token]
	if ok {
		delete(t.sessions, msg.Token)
	}
	t.mu.Unlock()

	if !ok {
		return errors.Wrapf(ErrUnknownSession, "token %s", msg.Token)
	}
	cs.reply <- msg
	return nil
}

// Release drops a session without delivering anything, e.g. once its
// caller gives up after a timeout.
func (t *SessionTable) Release(token string) {
	t.mu.Lock()
	delete(t.sessions, token)
	t.mu.Unlock()
}

// Len reports how many command sessions are currently outstanding.
func (t *SessionTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

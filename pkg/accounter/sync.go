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

package accounter

import "github.com/bbqrtrm/rtrm/pkg/restree"

// SyncStart opens a sync session: a fresh view is allocated and seeded with
// the live view's current bookings, so every RUNNING application starts the
// session holding exactly what it holds right now. It returns the session's
// view token.
func (a *Accounter) SyncStart(label string) (restree.ViewToken, error) {
	token, err := a.GetView(label)
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	live := a.live
	a.openSessions[token] = true
	a.mu.Unlock()

	for _, r := range a.tree.All() {
		r.CopyView(live, token)
	}
	return token, nil
}

// SyncAcquireResources re-books app's next AWM into the session view,
// replacing whatever it was seeded with. A failure here means the
// allocation recorded during scheduling cannot be reproduced against the
// session's current state; the error is returned, app is left with no
// booking in the session view, and every other booking in the session is
// left as it was.
func (a *Accounter) SyncAcquireResources(session restree.ViewToken, app restree.AppID, next AssignmentMap) (Resolved, error) {
	a.mu.Lock()
	if _, ok := a.views[session]; !ok {
		a.mu.Unlock()
		return nil, ErrUnknownView
	}
	vi := a.views[session]
	delete(vi.booked, app)
	a.mu.Unlock()

	for _, r := range a.tree.All() {
		r.ReleaseBooking(session, app)
	}

	return a.BookResources(app, next, session, false)
}

// SyncCommit promotes the session view to be the new live view and drops
// the view that was live before the session started.
func (a *Accounter) SyncCommit(session restree.ViewToken) error {
	prior, err := a.SetView(session)
	if err != nil {
		return err
	}

	a.mu.Lock()
	delete(a.openSessions, session)
	a.mu.Unlock()

	if prior != session {
		return a.PutView(prior)
	}
	return nil
}

// SyncAbort drops the session view, leaving the live view untouched.
func (a *Accounter) SyncAbort(session restree.ViewToken) error {
	a.mu.Lock()
	delete(a.openSessions, session)
	a.mu.Unlock()
	return a.PutView(session)
}

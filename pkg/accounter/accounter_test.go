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

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/bbqrtrm/rtrm/pkg/restree"
)

func newTestTree(t *testing.T, total uint64) *restree.Tree {
	t.Helper()
	tree := restree.NewTree()
	if _, err := tree.Register(restree.MustParsePath("sys0.cpu0.pe0"), "pe", total); err != nil {
		t.Fatalf("register: %v", err)
	}
	return tree
}

func TestBookAndConservation(t *testing.T) {
	tree := newTestTree(t, 1000)
	acc := New(tree)
	live := acc.LiveView()

	assign := AssignmentMap{
		"pe0": {Amount: 100, Bindings: []restree.Path{restree.MustParsePath("sys0.cpu0.pe0")}},
	}
	if _, err := acc.BookResources("app1", assign, live, true); err != nil {
		t.Fatalf("book: %v", err)
	}
	if used := acc.Used(restree.MustParsePath("sys0.cpu0.pe0"), live); used != 100 {
		t.Fatalf("expected used=100, got %d", used)
	}
}

func TestExhaustion(t *testing.T) {
	tree := newTestTree(t, 1000)
	acc := New(tree)
	live := acc.LiveView()

	assign := func() AssignmentMap {
		return AssignmentMap{
			"pe0": {Amount: 600, Bindings: []restree.Path{restree.MustParsePath("sys0.cpu0.pe0")}},
		}
	}

	if _, err := acc.BookResources("app1", assign(), live, true); err != nil {
		t.Fatalf("first booking should succeed: %v", err)
	}
	_, err := acc.BookResources("app2", assign(), live, true)
	if !errors.Is(err, ErrExceeded) {
		t.Fatalf("expected ErrExceeded, got %v", err)
	}
	if used := acc.Used(restree.MustParsePath("sys0.cpu0.pe0"), live); used != 600 {
		t.Fatalf("exhausted booking must leave the view unchanged, got used=%d", used)
	}
}

func TestViewIsolation(t *testing.T) {
	tree := newTestTree(t, 1000)
	acc := New(tree)
	live := acc.LiveView()

	candidate, err := acc.GetView("candidate")
	if err != nil {
		t.Fatalf("get_view: %v", err)
	}
	assign := AssignmentMap{
		"pe0": {Amount: 200, Bindings: []restree.Path{restree.MustParsePath("sys0.cpu0.pe0")}},
	}
	if _, err := acc.BookResources("app1", assign, candidate, true); err != nil {
		t.Fatalf("book: %v", err)
	}
	if used := acc.Used(restree.MustParsePath("sys0.cpu0.pe0"), live); used != 0 {
		t.Fatalf("booking a candidate view must not affect the live view, got used=%d", used)
	}
	if used := acc.Used(restree.MustParsePath("sys0.cpu0.pe0"), candidate); used != 200 {
		t.Fatalf("expected candidate view used=200, got %d", used)
	}
}

func TestAlreadyBooked(t *testing.T) {
	tree := newTestTree(t, 1000)
	acc := New(tree)
	live := acc.LiveView()
	assign := AssignmentMap{
		"pe0": {Amount: 10, Bindings: []restree.Path{restree.MustParsePath("sys0.cpu0.pe0")}},
	}
	if _, err := acc.BookResources("app1", assign, live, true); err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := acc.BookResources("app1", assign, live, true); !errors.Is(err, ErrAlreadyBooked) {
		t.Fatalf("expected ErrAlreadyBooked, got %v", err)
	}
}

func TestSyncCommitAndAbort(t *testing.T) {
	tree := newTestTree(t, 1000)
	acc := New(tree)
	live := acc.LiveView()
	assign := AssignmentMap{
		"pe0": {Amount: 100, Bindings: []restree.Path{restree.MustParsePath("sys0.cpu0.pe0")}},
	}
	if _, err := acc.BookResources("app1", assign, live, true); err != nil {
		t.Fatalf("book: %v", err)
	}

	session, err := acc.SyncStart("sync")
	if err != nil {
		t.Fatalf("sync_start: %v", err)
	}
	if used := acc.Used(restree.MustParsePath("sys0.cpu0.pe0"), session); used != 100 {
		t.Fatalf("session should be seeded with the live view's bookings, got %d", used)
	}

	next := AssignmentMap{
		"pe0": {Amount: 300, Bindings: []restree.Path{restree.MustParsePath("sys0.cpu0.pe0")}},
	}
	if _, err := acc.SyncAcquireResources(session, "app1", next); err != nil {
		t.Fatalf("sync_acquire_resources: %v", err)
	}
	if err := acc.SyncCommit(session); err != nil {
		t.Fatalf("sync_commit: %v", err)
	}
	if used := acc.Used(restree.MustParsePath("sys0.cpu0.pe0"), acc.LiveView()); used != 300 {
		t.Fatalf("commit should promote the session view, got used=%d", used)
	}
}

func TestSyncAbortRestoresQueries(t *testing.T) {
	tree := newTestTree(t, 1000)
	acc := New(tree)
	live := acc.LiveView()
	assign := AssignmentMap{
		"pe0": {Amount: 50, Bindings: []restree.Path{restree.MustParsePath("sys0.cpu0.pe0")}},
	}
	if _, err := acc.BookResources("app1", assign, live, true); err != nil {
		t.Fatalf("book: %v", err)
	}
	before := acc.Used(restree.MustParsePath("sys0.cpu0.pe0"), live)

	session, err := acc.SyncStart("sync")
	if err != nil {
		t.Fatalf("sync_start: %v", err)
	}
	if err := acc.SyncAbort(session); err != nil {
		t.Fatalf("sync_abort: %v", err)
	}
	after := acc.Used(restree.MustParsePath("sys0.cpu0.pe0"), acc.LiveView())
	if before != after {
		t.Fatalf("abort changed the live view: before=%d after=%d", before, after)
	}
}

func TestBookResourcesResolvedBinding(t *testing.T) {
	tree := newTestTree(t, 1000)
	acc := New(tree)
	live := acc.LiveView()

	assign := AssignmentMap{
		"pe0": {Amount: 150, Bindings: []restree.Path{restree.MustParsePath("sys0.cpu0.pe0")}},
	}
	resolved, err := acc.BookResources("app1", assign, live, true)
	require.NoError(t, err)

	want := Resolved{"sys0.cpu0.pe0": 150}
	if diff := cmp.Diff(want, resolved); diff != "" {
		t.Fatalf("resolved binding mismatch (-want +got):\n%s", diff)
	}
}

func TestReserveAndOfflineAreIdempotent(t *testing.T) {
	tree := newTestTree(t, 1000)
	acc := New(tree)
	path := restree.MustParsePath("sys0.cpu0.pe0")

	require.NoError(t, acc.Reserve(path, 200))
	require.NoError(t, acc.Reserve(path, 200))
	if got := acc.Unreserved(path); got != 800 {
		t.Fatalf("expected unreserved=800 after repeated identical reservations, got %d", got)
	}

	require.NoError(t, acc.SetOffline(path, true))
	require.NoError(t, acc.SetOffline(path, true))
	if got := acc.Available(path, acc.LiveView(), ""); got != 0 {
		t.Fatalf("expected offline resource to show zero availability, got %d", got)
	}
	if got := acc.Total(path); got != 1000 {
		t.Fatalf("offlining must not alter total, got %d", got)
	}
	require.NoError(t, acc.SetOffline(path, false))
	if got := acc.Available(path, acc.LiveView(), ""); got != 800 {
		t.Fatalf("expected availability restored net of the reservation, got %d", got)
	}

	if err := acc.Reserve(restree.MustParsePath("sys0.gpu0"), 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for an unregistered path, got %v", err)
	}
}

func TestIsReshuffling(t *testing.T) {
	a := Resolved{"sys0.cpu0.pe0": 100}
	b := Resolved{"sys0.cpu0.pe0": 100}
	if IsReshuffling(a, b) {
		t.Fatal("identical resolved bindings must not be reshuffling")
	}
	c := Resolved{"sys0.cpu0.pe1": 100}
	if !IsReshuffling(a, c) {
		t.Fatal("different concrete resources must be reshuffling")
	}
}

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

package restree

import "testing"

func TestParsePath(t *testing.T) {
	p, err := ParsePath("sys0.cpu0.pe3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Path{{TypeSystem, 0}, {TypeCPU, 0}, {TypePE, 3}}
	if !p.Equal(want) {
		t.Fatalf("got %s, want %s", p, want)
	}

	if _, err := ParsePath("sys0.bogus1"); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestPathMatches(t *testing.T) {
	concrete := MustParsePath("sys0.cpu0.pe3")
	template := MustParsePath("sys0.cpu*.pe")

	if !concrete.Matches(template) {
		t.Fatal("expected concrete path to match template")
	}

	wrongType := MustParsePath("sys0.gpu0")
	if concrete.Matches(wrongType) {
		t.Fatal("type mismatch should never match")
	}

	pinnedID := MustParsePath("sys0.cpu1.pe")
	if concrete.Matches(pinnedID) {
		t.Fatal("id mismatch on a concrete segment should not match")
	}
}

func TestTreeRegisterAndFind(t *testing.T) {
	tree := NewTree()
	for i := 0; i < 4; i++ {
		if _, err := tree.Register(MustParsePath("sys0.cpu0.pe"+itoa(i)), "pe", 100); err != nil {
			t.Fatalf("register pe%d: %v", i, err)
		}
	}
	if _, err := tree.Register(MustParsePath("sys0.cpu0.pe0"), "pe", 100); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}

	first, err := tree.FindFirst(MustParsePath("sys0.cpu0.pe*"))
	if err != nil {
		t.Fatalf("find_first: %v", err)
	}
	if first.Path().String() != "sys0.cpu0.pe0" {
		t.Fatalf("expected lowest id pe0, got %s", first.Path())
	}

	all := tree.FindAll(MustParsePath("sys0.cpu0.pe*"))
	if len(all) != 4 {
		t.Fatalf("expected 4 matches, got %d", len(all))
	}
}

func itoa(i int) string {
	digits := "0123456789"
	if i < 10 {
		return string(digits[i])
	}
	return string(digits[i/10]) + string(digits[i%10])
}

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

package linux

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func writeFakeCPU(t *testing.T, root string, id, pkg int) {
	t.Helper()
	dir := filepath.Join(root, "cpu"+strconv.Itoa(id), "topology")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "physical_package_id"), []byte(strconv.Itoa(pkg)+"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestDiscoverCPUsGroupsByPackage(t *testing.T) {
	root := t.TempDir()
	writeFakeCPU(t, root, 0, 0)
	writeFakeCPU(t, root, 1, 0)
	writeFakeCPU(t, root, 2, 1)
	writeFakeCPU(t, root, 3, 1)
	// cpuidle is not a real CPU directory and must be skipped: it has no
	// topology/physical_package_id file.
	if err := os.MkdirAll(filepath.Join(root, "cpuidle"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	cpus, err := discoverCPUs(root)
	if err != nil {
		t.Fatalf("discoverCPUs: %v", err)
	}
	if len(cpus) != 4 {
		t.Fatalf("expected 4 CPUs, got %d (%v)", len(cpus), cpus)
	}

	byPkg := map[int][]int{}
	for _, c := range cpus {
		byPkg[c.pkgID] = append(byPkg[c.pkgID], c.id)
	}
	if len(byPkg[0]) != 2 || len(byPkg[1]) != 2 {
		t.Fatalf("expected 2 packages of 2 CPUs each, got %v", byPkg)
	}
}

func TestCPUSetList(t *testing.T) {
	got := cpuSetList([]int{0, 2, 3})
	if got != "0,2,3" {
		t.Fatalf("expected \"0,2,3\", got %q", got)
	}
	if got := cpuSetList(nil); got != "" {
		t.Fatalf("expected empty string for no ids, got %q", got)
	}
}

func TestAllCPUIDsFromDiscoveredCPUs(t *testing.T) {
	root := t.TempDir()
	writeFakeCPU(t, root, 0, 0)
	writeFakeCPU(t, root, 1, 1)

	p := New(t.TempDir())
	cpus, err := discoverCPUs(root)
	if err != nil {
		t.Fatalf("discoverCPUs: %v", err)
	}
	if len(cpus) != 2 {
		t.Fatalf("expected 2 CPUs, got %d", len(cpus))
	}
	p.cpus = cpus
	for _, c := range cpus {
		p.packages[c.pkgID] = append(p.packages[c.pkgID], c.id)
	}
	ids := p.allCPUIDs()
	if len(ids) != 2 || ids[0] != 0 || ids[1] != 1 {
		t.Fatalf("expected allCPUIDs [0 1], got %v", ids)
	}
}

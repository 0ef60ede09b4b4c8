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

// Package linux is a cgroups-v2 platform proxy: it discovers CPU package
// topology under /sys/devices/system/cpu, registers one pe resource per
// logical CPU under the matching cpuN node, and enforces an application's
// committed binding by writing cpuset.cpus/memory.max into that
// application's cgroup.
package linux

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/bbqrtrm/rtrm/pkg/accounter"
	logger "github.com/bbqrtrm/rtrm/pkg/log"
	"github.com/bbqrtrm/rtrm/pkg/restree"
)

var log = logger.Get("platform-linux")

const (
	cpuSysfsDir    = "/sys/devices/system/cpu"
	defaultCgroup  = "/sys/fs/cgroup"
	cgroupParent   = "rtrm.slice"
	cpusetCpusFile = "cpuset.cpus"
	memoryMaxFile  = "memory.max"
)

// cpuInfo is one logical CPU discovered under cpuSysfsDir.
type cpuInfo struct {
	id      int
	pkgID   int
}

// Proxy implements platform.Proxy against a single-node Linux cgroup v2
// hierarchy.
type Proxy struct {
	mu        sync.Mutex
	cgroupDir string
	cpus      []cpuInfo
	// packages maps a CPU package id to its logical CPU ids, smallest id
	// first.
	packages map[int][]int
	apps     map[restree.AppID]string // app -> cgroup path
}

// New creates a proxy rooted at cgroupDir (normally "/sys/fs/cgroup").
func New(cgroupDir string) *Proxy {
	if cgroupDir == "" {
		cgroupDir = defaultCgroup
	}
	return &Proxy{
		cgroupDir: cgroupDir,
		packages:  map[int][]int{},
		apps:      map[restree.AppID]string{},
	}
}

// LoadPlatformData discovers CPU topology and registers one pe resource
// under sysN.cpuN.peM for every logical CPU found, grouped by physical
// package id.
func (p *Proxy) LoadPlatformData(tree *restree.Tree) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cpus, err := discoverCPUs(cpuSysfsDir)
	if err != nil {
		return errors.Wrap(err, "linux: discover CPU topology")
	}
	if len(cpus) == 0 {
		return errors.New("linux: no CPUs found under " + cpuSysfsDir)
	}
	p.cpus = cpus

	packages := map[int][]int{}
	for _, c := range cpus {
		packages[c.pkgID] = append(packages[c.pkgID], c.id)
	}
	for pkg := range packages {
		sort.Ints(packages[pkg])
	}
	p.packages = packages

	pkgIDs := make([]int, 0, len(packages))
	for pkg := range packages {
		pkgIDs = append(pkgIDs, pkg)
	}
	sort.Ints(pkgIDs)

	if _, err := tree.Register(restree.MustParsePath("sys0"), "system", 0); err != nil {
		return errors.Wrap(err, "linux: register system node")
	}
	for _, pkg := range pkgIDs {
		cpuPath, err := restree.ParsePath(fmt.Sprintf("sys0.cpu%d", pkg))
		if err != nil {
			return err
		}
		if _, err := tree.Register(cpuPath, "cpu", 0); err != nil {
			return errors.Wrapf(err, "linux: register cpu%d", pkg)
		}
		for _, cpuID := range packages[pkg] {
			pePath, err := restree.ParsePath(fmt.Sprintf("sys0.cpu%d.pe%d", pkg, cpuID))
			if err != nil {
				return err
			}
			if _, err := tree.Register(pePath, "pe", 100); err != nil {
				return errors.Wrapf(err, "linux: register pe%d", cpuID)
			}
		}
	}
	log.Info("discovered %d CPUs across %d package(s)", len(cpus), len(pkgIDs))
	return nil
}

// Setup creates app's cgroup directory, a no-op if it already exists.
func (p *Proxy) Setup(app restree.AppID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	dir := p.cgroupPath(app)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "linux: create cgroup for %s", app)
	}
	p.apps[app] = dir
	return nil
}

// MapResources writes assign's cpu/pe bindings into app's cgroup as a
// cpuset.cpus list, and any mem.* request as memory.max. Exclusive marks a
// cpuset that must not be shared: the reference implementation does not
// police this beyond logging it at debug level.
func (p *Proxy) MapResources(app restree.AppID, assign accounter.AssignmentMap, exclusive bool) error {
	p.mu.Lock()
	dir, ok := p.apps[app]
	p.mu.Unlock()
	if !ok {
		return errors.Errorf("linux: %s has no cgroup, Setup was not called", app)
	}

	cpuIDs := map[int]bool{}
	var memBytes uint64
	for _, entry := range assign {
		for _, bound := range entry.Bindings {
			if len(bound) == 0 {
				continue
			}
			leaf := bound[len(bound)-1]
			switch leaf.Type {
			case restree.TypePE:
				if leaf.ID >= 0 {
					cpuIDs[leaf.ID] = true
				}
			case restree.TypeMemory:
				memBytes += entry.Amount
			}
		}
	}

	if len(cpuIDs) > 0 {
		ids := make([]int, 0, len(cpuIDs))
		for id := range cpuIDs {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		if err := writeCgroupFile(dir, cpusetCpusFile, cpuSetList(ids)); err != nil {
			return errors.Wrapf(err, "linux: map cpuset for %s", app)
		}
		if exclusive {
			log.Debug("%s: cpuset %v marked exclusive", app, ids)
		}
	}
	if memBytes > 0 {
		if err := writeCgroupFile(dir, memoryMaxFile, strconv.FormatUint(memBytes, 10)); err != nil {
			return errors.Wrapf(err, "linux: map memory.max for %s", app)
		}
	}
	return nil
}

// ReclaimResources resets app's cgroup back to an unconstrained cpuset and
// the parent's memory ceiling.
func (p *Proxy) ReclaimResources(app restree.AppID) error {
	p.mu.Lock()
	dir, ok := p.apps[app]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	if err := writeCgroupFile(dir, cpusetCpusFile, cpuSetList(p.allCPUIDs())); err != nil {
		return errors.Wrapf(err, "linux: reclaim cpuset for %s", app)
	}
	return writeCgroupFile(dir, memoryMaxFile, "max")
}

// Release removes app's cgroup directory entirely.
func (p *Proxy) Release(app restree.AppID) error {
	p.mu.Lock()
	dir, ok := p.apps[app]
	delete(p.apps, app)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "linux: remove cgroup for %s", app)
	}
	return nil
}

// Refresh re-checks that the cgroup v2 filesystem is still mounted where
// expected; topology itself is assumed static between calls.
func (p *Proxy) Refresh() error {
	var st unix.Statfs_t
	if err := unix.Statfs(p.cgroupDir, &st); err != nil {
		return errors.Wrapf(err, "linux: statfs %s", p.cgroupDir)
	}
	if uint32(st.Type) != unix.CGROUP2_SUPER_MAGIC {
		log.Warn("%s is not a cgroup2 mount, enforcement calls will likely fail", p.cgroupDir)
	}
	return nil
}

func (p *Proxy) cgroupPath(app restree.AppID) string {
	safe := strings.ReplaceAll(string(app), "/", "_")
	return filepath.Join(p.cgroupDir, cgroupParent, safe+".scope")
}

func (p *Proxy) allCPUIDs() []int {
	ids := make([]int, 0, len(p.cpus))
	for _, c := range p.cpus {
		ids = append(ids, c.id)
	}
	sort.Ints(ids)
	return ids
}

func cpuSetList(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

func writeCgroupFile(dir, name, value string) error {
	path := filepath.Join(dir, name)
	if err := ioutil.WriteFile(path, []byte(value), 0o644); err != nil {
		return err
	}
	return nil
}

// discoverCPUs brute-force walks /sys/devices/system/cpu/cpuN/topology to
// find each logical CPU's physical package id, the same style of sysfs
// enumeration the topology package uses for NUMA/socket hints.
func discoverCPUs(root string) ([]cpuInfo, error) {
	entries, err := ioutil.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var cpus []cpuInfo
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "cpu") {
			continue
		}
		id, err := strconv.Atoi(strings.TrimPrefix(name, "cpu"))
		if err != nil {
			continue
		}
		pkgFile := filepath.Join(root, name, "topology", "physical_package_id")
		pkg, err := readIntFile(pkgFile)
		if err != nil {
			// cpuidle/cpufreq directories also match the "cpu" prefix glob
			// loosely; anything without a topology dir is not a real CPU.
			continue
		}
		cpus = append(cpus, cpuInfo{id: id, pkgID: pkg})
	}
	sort.Slice(cpus, func(i, j int) bool { return cpus[i].id < cpus[j].id })
	return cpus, nil
}

func readIntFile(path string) (int, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(raw)))
}

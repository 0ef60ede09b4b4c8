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

// Package loader is a minimal YAML-backed recipe.Recipe loader: recipe file
// grammar is not standardized upstream, so this defines just enough shape
// (a named list of AWMs, each with an id, a raw value and a resource
// request map) to produce a recipe the rest of the system can run against.
package loader

import (
	"io/ioutil"
	"path/filepath"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"

	logger "github.com/bbqrtrm/rtrm/pkg/log"
	"github.com/bbqrtrm/rtrm/pkg/recipe"
)

var log = logger.Get("recipe-loader")

// Loader loads recipe files from a directory, one file per recipe named
// "<name>.yaml".
type Loader struct {
	Dir string
}

// New creates a loader rooted at dir.
func New(dir string) *Loader {
	return &Loader{Dir: dir}
}

// awmFile is the on-disk shape of one AWM entry.
type awmFile struct {
	ID       int               `json:"id"`
	Name     string            `json:"name"`
	Value    float64           `json:"value"`
	Requests map[string]uint64 `json:"requests"`
}

// boundFile is the on-disk shape of one static resource bound.
type boundFile struct {
	Lower uint64 `json:"lower"`
	Upper uint64 `json:"upper"`
}

// recipeFile is the on-disk shape of a whole recipe file.
type recipeFile struct {
	Priority    int                  `json:"priority"`
	AWMs        []awmFile            `json:"awms"`
	Constraints map[string]boundFile `json:"constraints"`
}

// Load reads "<name>.yaml" from the loader's directory and returns an
// immutable, finalized recipe for appHandle. The weak flag is recorded in
// the recipe's plug-in data for the caller (normally the application
// manager, once it has accounter access) to decide how strictly to enforce
// AWM requests against current platform totals; resolving it here would
// require the loader to depend on a live accounter, which the recipe
// loader contract deliberately keeps out of its reach.
func (l *Loader) Load(appHandle string, name string, weak bool) (*recipe.Recipe, error) {
	path := filepath.Join(l.Dir, name+".yaml")
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "loader: failed to read recipe %q for %s", name, appHandle)
	}

	var rf recipeFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, errors.Wrapf(err, "loader: failed to parse recipe %q", name)
	}
	if len(rf.AWMs) == 0 {
		return nil, errors.Errorf("loader: recipe %q has no AWMs", name)
	}

	awms := make([]*recipe.AWM, 0, len(rf.AWMs))
	for _, af := range rf.AWMs {
		awms = append(awms, recipe.NewAWM(af.ID, af.Name, af.Value, af.Requests))
	}

	constraints := make(map[string]recipe.ResourceBound, len(rf.Constraints))
	for path, b := range rf.Constraints {
		constraints[path] = recipe.ResourceBound{Lower: b.Lower, Upper: b.Upper}
	}

	r := recipe.New(name, awms, constraints, rf.Priority, map[string]interface{}{
		"appHandle": appHandle,
		"weak":      weak,
	})
	if err := r.Finalize(); err != nil {
		return nil, err
	}
	log.Info("%s: loaded recipe %q (%d AWMs, weak=%v)", appHandle, name, len(awms), weak)
	return r, nil
}

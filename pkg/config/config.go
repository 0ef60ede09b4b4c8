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

// Package config loads and validates the runtime configuration of the
// resource manager: the active scheduling policy, contribution weights,
// RPC/synchronization timeouts and the platform proxy to use. Configuration
// can come from a YAML file and is overridable from the command line, the
// same two-source model the rest of the code base follows.
package config

import (
	"flag"
	"io/ioutil"
	"time"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"

	logger "github.com/bbqrtrm/rtrm/pkg/log"
)

var log = logger.Get("config")

// Weights holds the per-contribution weights used by the scheduling
// contribution manager. Keys are contribution names (value, reconfig,
// fairness, migration, congestion); values are normalized by the manager
// on load so that they sum to 1.
type Weights map[string]float64

// Congestion describes the piecewise congestion kernel parameters for one
// resource type.
type Congestion struct {
	// LinearThreshold is the projected usage ratio ((used + request) /
	// total) below which the congestion penalty is zero.
	LinearThreshold float64 `json:"linearThreshold"`
	// ExpThreshold is the ratio above which the penalty switches from
	// linear to exponential.
	ExpThreshold float64 `json:"expThreshold"`
	// ExpBase is the base of the exponential penalty kernel.
	ExpBase float64 `json:"expBase"`
}

// Config is the top-level configuration of the resource manager.
type Config struct {
	// Policy is the name of the active scheduling policy plug-in.
	Policy string `json:"policy"`
	// PolicyDir is where policy plug-ins are discovered from.
	PolicyDir string `json:"policyDir"`
	// Weights are the per-contribution scoring weights.
	Weights Weights `json:"weights"`
	// FairnessBase is the base of the fairness exponential penalty kernel.
	FairnessBase float64 `json:"fairnessBase"`
	// FairnessSaturation caps, per resource type name (pe, mem, ...), the
	// percentage of a resource's total a single application may request
	// with any fairness credit. Values are clamped to [0, 100].
	FairnessSaturation map[string]float64 `json:"fairnessSaturation"`
	// Congestion holds per-resource-type congestion kernel parameters,
	// keyed by resource type name (cpu, mem, gpu, ...).
	Congestion map[string]Congestion `json:"congestion"`
	// SyncTimeout bounds every phase of the four-step synchronization
	// protocol (pre-change, sync-change, do-change, post-change).
	SyncTimeout time.Duration `json:"syncTimeout"`
	// RPCSocket is the address the application proxy listens on.
	RPCSocket string `json:"rpcSocket"`
	// PlatformProxy selects the platform enforcement backend (e.g. "linux").
	PlatformProxy string `json:"platformProxy"`
	// LogLevel is the minimum emitted log severity (debug, info, warn, error).
	LogLevel string `json:"logLevel"`
}

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	return &Config{
		Policy:    "yams",
		PolicyDir: "/usr/lib/rtrm/policies",
		Weights: Weights{
			"value":      0.35,
			"reconfig":   0.2,
			"fairness":   0.2,
			"migration":  0.1,
			"congestion": 0.15,
		},
		FairnessBase: 2.0,
		FairnessSaturation: map[string]float64{
			"pe":  90,
			"mem": 70,
		},
		Congestion: map[string]Congestion{
			"cpu": {LinearThreshold: 0.7, ExpThreshold: 0.9, ExpBase: 3.0},
			"mem": {LinearThreshold: 0.8, ExpThreshold: 0.95, ExpBase: 4.0},
		},
		SyncTimeout:   500 * time.Millisecond,
		RPCSocket:     "/var/run/rtrm/rpc.sock",
		PlatformProxy: "linux",
		LogLevel:      "info",
	}
}

// Load reads a YAML configuration file, overlaying it on top of Default.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: failed to read %q", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "config: failed to parse %q", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants the rest of the system relies on.
func (c *Config) Validate() error {
	if c.SyncTimeout <= 0 {
		return errors.New("config: syncTimeout must be positive")
	}
	if len(c.Weights) == 0 {
		return errors.New("config: at least one contribution weight must be set")
	}
	for name, w := range c.Weights {
		if w < 0 {
			return errors.Errorf("config: weight %q is negative", name)
		}
	}
	return nil
}

// RegisterFlags binds command line overrides for the most commonly tuned
// fields onto fs. File-sourced values remain in effect for anything not
// passed on the command line.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Policy, "policy", c.Policy, "name of the scheduling policy plug-in to load")
	fs.StringVar(&c.PolicyDir, "policy-dir", c.PolicyDir, "directory to discover policy plug-ins from")
	fs.DurationVar(&c.SyncTimeout, "sync-timeout", c.SyncTimeout, "deadline for each synchronization phase")
	fs.StringVar(&c.RPCSocket, "rpc-socket", c.RPCSocket, "address the application proxy listens on")
	fs.StringVar(&c.PlatformProxy, "platform-proxy", c.PlatformProxy, "platform enforcement backend to use")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "minimum log severity (debug, info, warn, error)")
}

// ApplyLogLevel configures the log package from the parsed level string.
func (c *Config) ApplyLogLevel() {
	switch c.LogLevel {
	case "debug":
		logger.SetLevel(logger.LevelDebug)
		logger.EnableDebug("")
	case "warn":
		logger.SetLevel(logger.LevelWarn)
	case "error":
		logger.SetLevel(logger.LevelError)
	default:
		logger.SetLevel(logger.LevelInfo)
	}
}

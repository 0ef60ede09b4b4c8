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

// Package version lets a built binary carry its own version metadata,
// overridden at link time with -ldflags
// "-X=.../pkg/version.Version=<version> -X=.../pkg/version.Build=<sha>".
package version

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Default values of variables overridden by the linker at build time.
var (
	// Version is the daemon's version, by convention 'git describe'.
	Version = "unknown"
	// Build is the git SHA1 the binary was built from.
	Build = "unknown"
)

// Print prints version information about this binary to stdout.
func Print() {
	fmt.Printf("%s version information:\n", filepath.Base(os.Args[0]))
	fmt.Printf("  - version: %s\n", Version)
	fmt.Printf("  - build:   %s\n", Build)
}

type versionFlag struct{}

func (versionFlag) IsBoolFlag() bool { return true }

func (versionFlag) Set(value string) error {
	print, err := strconv.ParseBool(value)
	if err != nil {
		return err
	}
	if print {
		Print()
		os.Exit(0)
	}
	return nil
}

func (*versionFlag) String() string { return "false" }

func init() {
	flag.Var(&versionFlag{}, "version", "print version information about "+filepath.Base(os.Args[0]))
}

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

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bbqrtrm/rtrm/pkg/config"
	logger "github.com/bbqrtrm/rtrm/pkg/log"
	"github.com/bbqrtrm/rtrm/pkg/rtrm"
	"github.com/bbqrtrm/rtrm/pkg/sched"
	_ "github.com/bbqrtrm/rtrm/pkg/sched/yams"
	"github.com/bbqrtrm/rtrm/pkg/version"
)

var log = logger.Default()

func main() {
	// --config has to be known before the rest of the flags are bound, so
	// that file-sourced values are in place as the defaults RegisterFlags
	// overlays command-line overrides onto.
	preParse := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	preParse.SetOutput(io.Discard)
	configPath := preParse.String("config", "", "path to a YAML configuration file")
	_ = preParse.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("failed to load configuration: %v", err)
	}

	flag.StringVar(configPath, "config", *configPath, "path to a YAML configuration file")
	metricsAddr := flag.String("metrics-address", ":9990", "address to expose Prometheus metrics on")
	printConfig := flag.Bool("print-config", false, "print the effective configuration and exit")
	listPolicies := flag.Bool("list-policies", false, "list available scheduling policies and exit")
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()

	switch {
	case *listPolicies:
		fmt.Println("Available policies:")
		for _, name := range sched.RegisteredPolicies() {
			fmt.Printf("  * %s\n", name)
		}
		os.Exit(0)

	case *printConfig:
		fmt.Printf("%+v\n", cfg)
		os.Exit(0)

	default:
		if args := flag.Args(); len(args) > 0 {
			log.Error("unknown command line arguments: %s", strings.Join(args, ","))
			flag.Usage()
			os.Exit(1)
		}
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration: %v", err)
	}

	logger.SetupDebugToggleSignal(syscall.SIGUSR1)
	log.Info("rtrmd (version %s, build %s) starting...", version.Version, version.Build)

	m, err := rtrm.New(cfg)
	if err != nil {
		log.Fatal("failed to create resource manager instance: %v", err)
	}

	if err := m.Listen(); err != nil {
		log.Fatal("failed to open rpc socket: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics server exited: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := m.Start(ctx); err != nil && err != context.Canceled {
			log.Error("resource manager exited: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	m.Stop()
	_ = httpSrv.Shutdown(context.Background())
}

// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/homelab/thermostatd/internal/config"
	"github.com/homelab/thermostatd/internal/supervisor"
)

func main() {
	var flagConfigFile string
	var flagLogLevel string
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Overwrite the default configuration with values from `config.json`")
	flag.StringVar(&flagLogLevel, "loglevel", "info", "Minimum log level: debug, info, warn, err")
	flag.Parse()

	cclog.Init(flagLogLevel, true)

	if _, err := os.Stat(flagConfigFile); err != nil {
		if !os.IsNotExist(err) || flagConfigFile != "./config.json" {
			cclog.Fatalf("reading config file: %s", err.Error())
		}
		flagConfigFile = ""
	}

	if err := config.Init(flagConfigFile); err != nil {
		cclog.Fatalf("initializing config: %s", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := supervisor.RestartLoop(ctx); err != nil {
		cclog.Fatalf("supervisor exited: %s", err.Error())
	}

	cclog.Info("thermostatd: graceful shutdown complete")
}

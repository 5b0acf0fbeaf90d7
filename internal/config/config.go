// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads thermostatd's JSON configuration file, overlays
// environment variables loaded via godotenv, and exposes the result as the
// package-level Keys value, mirroring internal/config.Init in the teacher.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// RuleEngineConfig toggles the supplemented legacy rule-engine decision path.
type RuleEngineConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// HistoryConfig controls the background historian cadences (§4.D).
type HistoryConfig struct {
	ProbeInterval    string `json:"probe-interval"`
	ModePollInterval string `json:"mode-poll-interval"`
	PinPollInterval  string `json:"pin-poll-interval"`
}

// ProgramConfig is the top-level JSON-decoded configuration shape.
type ProgramConfig struct {
	MqttHost    string            `json:"mqtt-host"`
	MqttPort    int               `json:"mqtt-port"`
	MqttUser    string            `json:"mqtt-user"`
	MqttPass    string            `json:"mqtt-pass"`
	StorePath   string            `json:"store-path"`
	RuleEngine  RuleEngineConfig  `json:"rule-engine"`
	History     HistoryConfig     `json:"history"`
}

// Keys holds the process-wide configuration once Init has run.
var Keys ProgramConfig = ProgramConfig{
	MqttHost:  "localhost",
	MqttPort:  4222,
	StorePath: "thermostatd.db",
	History: HistoryConfig{
		ProbeInterval:    "5s",
		ModePollInterval: "500s",
		PinPollInterval:  "60s",
	},
}

// Init loads .env (if present), decodes flagConfigFile (if non-empty) into
// Keys with unknown fields rejected, then overlays environment variables.
// Mirrors cmd/cc-backend/main.go's LoadEnv + json.Decoder.DisallowUnknownFields
// sequence.
func Init(flagConfigFile string) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		cclog.Warnf("config: .env not loaded: %s", err.Error())
	}

	if flagConfigFile != "" {
		f, err := os.Open(flagConfigFile)
		if err != nil {
			return fmt.Errorf("config: opening %s: %w", flagConfigFile, err)
		}
		defer f.Close()

		dec := json.NewDecoder(f)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&Keys); err != nil {
			return fmt.Errorf("config: decoding %s: %w", flagConfigFile, err)
		}
	}

	overlayEnv()

	if Keys.History.ProbeInterval == "" {
		Keys.History.ProbeInterval = "5s"
	}
	if Keys.History.ModePollInterval == "" {
		Keys.History.ModePollInterval = "500s"
	}
	if Keys.History.PinPollInterval == "" {
		Keys.History.PinPollInterval = "60s"
	}

	return nil
}

func overlayEnv() {
	if v := os.Getenv("MQTT_HOST"); v != "" {
		Keys.MqttHost = v
	}
	if v := os.Getenv("MQTT_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			Keys.MqttPort = port
		} else {
			cclog.Warnf("config: ignoring malformed MQTT_PORT %q", v)
		}
	}
	if v := os.Getenv("MQTT_USER"); v != "" {
		Keys.MqttUser = v
	}
	if v := os.Getenv("MQTT_PASS"); v != "" {
		Keys.MqttPass = v
	}
	if v := os.Getenv("THERMOSTATD_STORE_PATH"); v != "" {
		Keys.StorePath = v
	}
}

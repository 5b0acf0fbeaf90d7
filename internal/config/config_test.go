// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func resetKeys() {
	Keys = ProgramConfig{
		MqttHost:  "localhost",
		MqttPort:  4222,
		StorePath: "thermostatd.db",
		History: HistoryConfig{
			ProbeInterval:    "5s",
			ModePollInterval: "500s",
			PinPollInterval:  "60s",
		},
	}
}

func TestInitWithNoConfigFileKeepsDefaults(t *testing.T) {
	resetKeys()
	t.Cleanup(resetKeys)

	require.NoError(t, Init(""))
	require.Equal(t, "localhost", Keys.MqttHost)
	require.Equal(t, 4222, Keys.MqttPort)
	require.Equal(t, "5s", Keys.History.ProbeInterval)
}

func TestInitDecodesConfigFile(t *testing.T) {
	resetKeys()
	t.Cleanup(resetKeys)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"mqtt-host": "broker.local",
		"mqtt-port": 4333,
		"store-path": "/var/lib/thermostatd/state.db",
		"rule-engine": {"enabled": true, "path": "/etc/thermostatd/rules.json"}
	}`), 0o644))

	require.NoError(t, Init(path))
	require.Equal(t, "broker.local", Keys.MqttHost)
	require.Equal(t, 4333, Keys.MqttPort)
	require.Equal(t, "/var/lib/thermostatd/state.db", Keys.StorePath)
	require.True(t, Keys.RuleEngine.Enabled)
	require.Equal(t, "/etc/thermostatd/rules.json", Keys.RuleEngine.Path)
	// history intervals default-filled since the config file omitted them.
	require.Equal(t, "5s", Keys.History.ProbeInterval)
}

func TestInitRejectsUnknownFields(t *testing.T) {
	resetKeys()
	t.Cleanup(resetKeys)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"not-a-real-field": true}`), 0o644))

	require.Error(t, Init(path))
}

func TestInitMissingConfigFileErrors(t *testing.T) {
	resetKeys()
	t.Cleanup(resetKeys)

	require.Error(t, Init("/nonexistent/path/config.json"))
}

func TestOverlayEnvOverridesDefaults(t *testing.T) {
	resetKeys()
	t.Cleanup(resetKeys)
	t.Cleanup(func() {
		os.Unsetenv("MQTT_HOST")
		os.Unsetenv("MQTT_PORT")
		os.Unsetenv("THERMOSTATD_STORE_PATH")
	})

	os.Setenv("MQTT_HOST", "env-broker")
	os.Setenv("MQTT_PORT", "4555")
	os.Setenv("THERMOSTATD_STORE_PATH", "/tmp/env-store.db")

	require.NoError(t, Init(""))
	require.Equal(t, "env-broker", Keys.MqttHost)
	require.Equal(t, 4555, Keys.MqttPort)
	require.Equal(t, "/tmp/env-store.db", Keys.StorePath)
}

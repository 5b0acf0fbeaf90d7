// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hvac

// Topics is the fixed set of bus subjects thermostatd speaks on. See spec.md §6.
var Topics = struct {
	RemotestateSet  string
	Remotestate     string
	Mode            string
	ModeGet         string
	Pinstate        string
	PinstateGet     string
	Temp            string
	Script          string
	ScriptGet       string
	ScriptSet       string
	ScriptError     string
	ScriptTest      string
	ScriptTestError string

	TimedOverride      string
	TimedOverrideGet   string
	TimedOverrideSet   string
	TimedOverrideError string

	OneshotOverride      string
	OneshotOverrideGet   string
	OneshotOverrideSet   string
	OneshotOverrideError string
}{
	RemotestateSet:  "home/thermostat/hvac/remotestate/set",
	Remotestate:     "home/thermostat/hvac/remotestate",
	Mode:            "home/thermostat/hvac/mode",
	ModeGet:         "home/thermostat/hvac/mode/get",
	Pinstate:        "home/thermostat/hvac/pinstate",
	PinstateGet:     "home/thermostat/hvac/pinstate/get",
	Temp:            "home/thermostat/temp",
	Script:          "home/thermostatd/script",
	ScriptGet:       "home/thermostatd/script/get",
	ScriptSet:       "home/thermostatd/script/set",
	ScriptError:     "home/thermostatd/script/error",
	ScriptTest:      "home/thermostatd/script/test",
	ScriptTestError: "home/thermostatd/script/test/error",

	TimedOverride:      "home/thermostatd/timed_override",
	TimedOverrideGet:   "home/thermostatd/timed_override/get",
	TimedOverrideSet:   "home/thermostatd/timed_override/set",
	TimedOverrideError: "home/thermostatd/timed_override/error",

	OneshotOverride:      "home/thermostatd/oneshot_override",
	OneshotOverrideGet:   "home/thermostatd/oneshot_override/get",
	OneshotOverrideSet:   "home/thermostatd/oneshot_override/set",
	OneshotOverrideError: "home/thermostatd/oneshot_override/error",
}

// Keys are the durable-store keys thermostatd persists state under. See spec.md §3.
var Keys = struct {
	SavedScript     string
	TimedOverride   string
	OneshotOverride string
	ProbeEndpoints  string
	PinstateHistory string
}{
	SavedScript:     "saved_script",
	TimedOverride:   "timed_override",
	OneshotOverride: "oneshot_override",
	ProbeEndpoints:  "probe_endpoints",
	PinstateHistory: "pinstate_history",
}

// ProbeHistoryKey returns the bounded-history list key for a named probe.
func ProbeHistoryKey(probe string) string {
	return "probe_history:" + probe
}

// MaxHistoryLen bounds the append-only lists to ~2 weeks at 10s granularity.
const MaxHistoryLen = 120960

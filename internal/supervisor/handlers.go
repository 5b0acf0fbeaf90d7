// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package supervisor

import (
	"encoding/json"
	"time"

	"github.com/homelab/thermostatd/internal/bus"
	"github.com/homelab/thermostatd/internal/hvac"
	"github.com/homelab/thermostatd/internal/override"
	"github.com/homelab/thermostatd/internal/script"
	"github.com/homelab/thermostatd/internal/state"
	"github.com/homelab/thermostatd/internal/store"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// registerBusHandlers wires the bus-event task (spec.md §2/§4.A): one
// handler per control topic, plus a top-level wildcard handler that feeds
// the script's retained-topic cache and fires the script's optional
// on_message(state, topic, payload) (spec.md §4.F Component F).
func registerBusHandlers(b *bus.Bus, st *store.Store, cs *state.CommonState, sandbox *script.Sandbox) {
	b.Handle(hvac.Topics.Mode, func(_ string, payload []byte) {
		call, ok := hvac.FromPayload(payload)
		if !ok {
			cclog.Warnf("supervisor: malformed mode payload %q", payload)
			return
		}
		cs.SetMode(call)
	})

	b.Handle(hvac.Topics.Remotestate, func(_ string, payload []byte) {
		if _, ok := hvac.FromPayload(payload); !ok {
			cclog.Warnf("supervisor: malformed remotestate payload %q", payload)
		}
	})

	b.Handle(hvac.Topics.ScriptGet, func(_ string, _ []byte) {
		b.Publish(hvac.Topics.Script, []byte(cs.Script().Text), true, 0)
	})

	b.Handle(hvac.Topics.ScriptSet, func(_ string, payload []byte) {
		text := string(payload)
		cs.SetScript(text, time.Now())
		if err := st.Set(hvac.Keys.SavedScript, text); err != nil {
			cclog.Errorf("supervisor: persisting saved_script: %s", err.Error())
		}
		b.Publish(hvac.Topics.Script, payload, true, 0)
	})

	b.Handle(hvac.Topics.ScriptTest, func(_ string, payload []byte) {
		snap := script.Snapshot{Mode: cs.Mode(), LastResult: cs.LastCall()}
		_, _, issues, err := sandbox.Validate(string(payload), snap)
		if err != nil {
			publishScriptTestResult(b, false, err.Error(), issues)
			return
		}
		publishScriptTestResult(b, true, "", issues)
	})

	b.Handle(hvac.Topics.TimedOverrideGet, func(_ string, _ []byte) {
		t, ok := cs.TimedOverride()
		b.Publish(hvac.Topics.TimedOverride, override.EncodeTimed(t, ok), true, 0)
	})

	b.Handle(hvac.Topics.TimedOverrideSet, func(_ string, payload []byte) {
		t, err := override.ParseTimed(payload)
		if err != nil {
			publishParseError(b, hvac.Topics.TimedOverrideError, err)
			return
		}
		cs.SetTimedOverride(t)
		if err := override.SaveTimed(st, t); err != nil {
			cclog.Errorf("supervisor: persisting timed_override: %s", err.Error())
		}
		b.Publish(hvac.Topics.TimedOverride, override.EncodeTimed(t, true), true, 0)
	})

	b.Handle(hvac.Topics.OneshotOverrideGet, func(_ string, _ []byte) {
		o, ok := cs.OneshotOverride()
		b.Publish(hvac.Topics.OneshotOverride, override.EncodeOneshot(o, ok), true, 0)
	})

	b.Handle(hvac.Topics.OneshotOverrideSet, func(_ string, payload []byte) {
		o, err := override.ParseOneshot(payload)
		if err != nil {
			publishParseError(b, hvac.Topics.OneshotOverrideError, err)
			return
		}
		cs.SetOneshotOverride(o)
		if err := override.SaveOneshot(st, o); err != nil {
			cclog.Errorf("supervisor: persisting oneshot_override: %s", err.Error())
		}
		b.Publish(hvac.Topics.OneshotOverride, override.EncodeOneshot(o, true), true, 0)
	})

	// Top-level wildcard: feeds retained_keys for every topic the script
	// registered interest in via state.mqtt.subscribe (spec.md §4.F/§4.H),
	// and invokes the script's optional on_message(state, topic, payload)
	// for those same tracked topics.
	// script.Deps.MqttSubscribe pre-seeds retained_keys with an empty entry
	// so this handler recognizes the topic once a payload arrives.
	b.Handle("*", func(topic string, payload []byte) {
		if _, tracked := cs.RetainedGet(topic); !tracked {
			return
		}
		cs.RetainedSet(topic, string(payload))

		snap := script.Snapshot{Mode: cs.Mode(), LastResult: cs.LastCall()}
		if err := sandbox.OnMessage(snap, topic, string(payload)); err != nil {
			cclog.Warnf("supervisor: on_message(%s): %s", topic, err.Error())
		}
	})
}

type errorStatus struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func publishParseError(b *bus.Bus, topic string, err error) {
	payload, _ := json.Marshal(errorStatus{Success: false, Error: err.Error()})
	b.Publish(topic, payload, true, 0)
}

type scriptTestResult struct {
	Success bool     `json:"success"`
	Error   string   `json:"error,omitempty"`
	Issues  []string `json:"issues,omitempty"`
}

func publishScriptTestResult(b *bus.Bus, success bool, errMsg string, issues []string) {
	payload, _ := json.Marshal(scriptTestResult{Success: success, Error: errMsg, Issues: issues})
	b.Publish(hvac.Topics.ScriptTestError, payload, false, 0)
}

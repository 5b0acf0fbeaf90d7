// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package decision is the fixed-cadence arbiter (spec.md §4.G): woken every
// second, it checks for a script hot-reload, ticks the script, and — every
// 10s — applies strict override precedence (TimedOverride > OneshotOverride
// > script/rule-engine evaluate) before committing and publishing the
// relay command.
package decision

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/homelab/thermostatd/internal/hvac"
	"github.com/homelab/thermostatd/internal/override"
	"github.com/homelab/thermostatd/internal/ruleengine"
	"github.com/homelab/thermostatd/internal/script"
	"github.com/homelab/thermostatd/internal/state"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

const evaluationInterval = 10 * time.Second

// publisher is the subset of *bus.Bus the decision engine needs.
type publisher interface {
	Publish(topic string, payload []byte, retained bool, qos int)
}

// persister is the subset of *store.Store overrides persist through.
type persister interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Del(key string) error
}

// probeSource resolves cached probe values, as internal/state.CommonState's
// ProbeValues() does.
type probeSource func() map[string]float64

// ruleEngineSource supplies an opt-in alternative to the script sandbox in
// the same precedence slot (SPEC_FULL.md §3).
type ruleEngineSource struct {
	enabled bool
	set     *ruleengine.TimedRuleSet
	probeKeys func() []string
}

// Engine runs the decision cycle.
type Engine struct {
	state   *state.CommonState
	bus     publisher
	store   persister
	sandbox *script.Sandbox
	probes  probeSource
	rules   ruleEngineSource

	lastLoadedVersion time.Time
	nextEvaluation    time.Time
}

// New constructs an Engine. rules.enabled selects whether the legacy
// rule-engine path (SPEC_FULL.md §3) runs instead of the script sandbox.
func New(cs *state.CommonState, b publisher, st persister, sandbox *script.Sandbox, probes probeSource, ruleEngineEnabled bool, ruleSet *ruleengine.TimedRuleSet, probeKeys func() []string) *Engine {
	return &Engine{
		state:   cs,
		bus:     b,
		store:   st,
		sandbox: sandbox,
		probes:  probes,
		rules: ruleEngineSource{
			enabled:   ruleEngineEnabled,
			set:       ruleSet,
			probeKeys: probeKeys,
		},
		nextEvaluation: time.Now(),
	}
}

// Run drives the 1Hz cooperative loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.tick()
		}
	}
}

func (e *Engine) tick() {
	e.checkHotReload()
	e.tickScript()

	now := time.Now()
	if now.Before(e.nextEvaluation) {
		return
	}

	nextCall, has := e.evaluate(now)
	last := e.state.LastCall()

	if has && nextCall != last {
		e.state.SetLastCall(nextCall)
		last = nextCall
	}

	e.bus.Publish(hvac.Topics.RemotestateSet, []byte(last.Payload()), false, 0)
	e.nextEvaluation = now.Add(evaluationInterval)
}

// checkHotReload implements spec.md §4.G step 1.
func (e *Engine) checkHotReload() {
	rec := e.state.Script()
	if rec.Version.Equal(e.lastLoadedVersion) {
		return
	}

	snap := e.snapshot()

	if _, _, _, err := e.sandbox.Validate(rec.Text, snap); err != nil {
		e.publishScriptError("test_script", err)
		return
	}
	if err := e.sandbox.Load(rec.Text, snap); err != nil {
		step := "load_script"
		var stepErr *script.StepError
		if errors.As(err, &stepErr) {
			step = stepErr.Step
		}
		e.publishScriptError(step, err)
		return
	}

	e.lastLoadedVersion = rec.Version
	e.publishScriptSuccess()
}

// tickScript implements spec.md §4.G step 2.
func (e *Engine) tickScript() {
	if err := e.sandbox.Tick(e.snapshot()); err != nil {
		e.publishScriptError("tick_script", err)
	}
}

// evaluate implements spec.md §4.G step 3: strict override precedence, then
// script (or rule-engine) evaluation.
func (e *Engine) evaluate(now time.Time) (hvac.Call, bool) {
	if t, ok := e.state.TimedOverride(); ok {
		if !t.Expired(now) {
			return t.Command, true
		}
		e.clearTimedOverride()
	}

	if o, ok := e.state.OneshotOverride(); ok {
		values := e.probes()
		value, present := values[o.Probe]
		if !present {
			e.clearOneshotOverride()
		} else if o.Met(value) {
			e.clearOneshotOverride()
		} else {
			return o.Command, true
		}
	}

	if e.rules.enabled && e.rules.set != nil {
		return ruleengine.Evaluate(e.rules.set, e.state.Mode(), e.probeLookup(), e.rules.probeKeys())
	}

	call, has, err := e.sandbox.Evaluate(e.snapshot())
	if err != nil {
		e.publishScriptError("evaluate_script", err)
		return hvac.Off, false
	}
	return call, has
}

func (e *Engine) probeLookup() ruleengine.ProbeLookup {
	return func(name string) (float64, bool) {
		v, ok := e.probes()[name]
		return v, ok
	}
}

func (e *Engine) clearTimedOverride() {
	e.state.ClearTimedOverride()
	if err := override.ClearTimed(e.store); err != nil {
		cclog.Errorf("decision: clearing persisted timed_override: %s", err.Error())
	}
	e.bus.Publish(hvac.Topics.TimedOverride, []byte("null"), true, 0)
}

func (e *Engine) clearOneshotOverride() {
	e.state.ClearOneshotOverride()
	if err := override.ClearOneshot(e.store); err != nil {
		cclog.Errorf("decision: clearing persisted oneshot_override: %s", err.Error())
	}
	e.bus.Publish(hvac.Topics.OneshotOverride, []byte("null"), true, 0)
}

func (e *Engine) snapshot() script.Snapshot {
	return script.Snapshot{Mode: e.state.Mode(), LastResult: e.state.LastCall()}
}

type scriptStatus struct {
	Success bool   `json:"success"`
	ErrorAt string `json:"error_at,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (e *Engine) publishScriptError(step string, err error) {
	cclog.Warnf("decision: %s: %s", step, err.Error())
	payload, _ := json.Marshal(scriptStatus{Success: false, ErrorAt: step, Error: err.Error()})
	e.bus.Publish(hvac.Topics.ScriptError, payload, true, 0)
}

func (e *Engine) publishScriptSuccess() {
	payload, _ := json.Marshal(scriptStatus{Success: true})
	e.bus.Publish(hvac.Topics.ScriptError, payload, true, 0)
}

// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package supervisor is the top-level lifecycle (spec.md §4.I): open
// connections, hydrate state, run the bus-event and decision tasks
// concurrently, restart the whole daemon with backoff if either errors out.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/homelab/thermostatd/internal/bus"
	"github.com/homelab/thermostatd/internal/config"
	"github.com/homelab/thermostatd/internal/decision"
	"github.com/homelab/thermostatd/internal/history"
	"github.com/homelab/thermostatd/internal/hvac"
	"github.com/homelab/thermostatd/internal/override"
	"github.com/homelab/thermostatd/internal/probe"
	"github.com/homelab/thermostatd/internal/ruleengine"
	"github.com/homelab/thermostatd/internal/script"
	"github.com/homelab/thermostatd/internal/state"
	"github.com/homelab/thermostatd/internal/store"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// DefaultScript is loaded when the persisted script key is absent
// (spec.md §6).
const DefaultScript = `-- default schedule: heat to 68, cool above 78
function evaluate(s)
	return s:timed_program({
		["00:00"] = function()
			if s.mode == "off" then return "off" end
			if s.mode == "cool" then
				if s.probes.primary and s.probes.primary.temperature > 78 then return "cool" end
				return "off"
			end
			if s.probes.primary and s.probes.primary.temperature < 68 then return "heat" end
			return "off"
		end,
	})
end
`

// Run executes one supervised lifetime of the daemon: connect, hydrate,
// run the bus-event and decision tasks until one errors, then return that
// error to the caller's restart loop. It never exits on its own.
func Run(ctx context.Context) error {
	b, err := bus.Connect(bus.Config{
		Address:  fmt.Sprintf("nats://%s:%d", config.Keys.MqttHost, config.Keys.MqttPort),
		Username: config.Keys.MqttUser,
		Password: config.Keys.MqttPass,
	})
	if err != nil {
		return fmt.Errorf("supervisor: connecting bus: %w", err)
	}
	defer b.Close()

	st, err := store.Open(config.Keys.StorePath)
	if err != nil {
		return fmt.Errorf("supervisor: opening store: %w", err)
	}
	defer st.Close()

	cs := state.New()

	if err := hydrate(b, st, cs); err != nil {
		return fmt.Errorf("supervisor: hydrating state: %w", err)
	}

	sandbox := script.New(scriptDeps(b, st, cs), 32)
	defer sandbox.Close()

	registerBusHandlers(b, st, cs, sandbox)

	probes := probe.New(b, st, cs)
	if err := probes.Hydrate(); err != nil {
		return fmt.Errorf("supervisor: hydrating probes: %w", err)
	}
	if _, ok := probes.Get("primary"); !ok {
		if err := probes.Create("primary", hvac.Topics.Temp); err != nil {
			return fmt.Errorf("supervisor: creating primary probe: %w", err)
		}
	}

	for _, topic := range []string{
		hvac.Topics.Mode, hvac.Topics.Remotestate,
		hvac.Topics.ScriptGet, hvac.Topics.ScriptSet, hvac.Topics.ScriptTest,
		hvac.Topics.TimedOverrideGet, hvac.Topics.TimedOverrideSet,
		hvac.Topics.OneshotOverrideGet, hvac.Topics.OneshotOverrideSet,
		"*",
	} {
		if err := b.Subscribe(topic); err != nil {
			return fmt.Errorf("supervisor: subscribing %s: %w", topic, err)
		}
	}

	b.Publish(hvac.Topics.Script, []byte(cs.Script().Text), true, 0)
	publishHydratedOverrides(b, cs)

	recorder, err := history.New(b, st, probes)
	if err != nil {
		return fmt.Errorf("supervisor: creating history recorder: %w", err)
	}
	probeInterval, err := time.ParseDuration(config.Keys.History.ProbeInterval)
	if err != nil {
		probeInterval = 5 * time.Second
	}
	if err := recorder.Start(probeInterval); err != nil {
		return fmt.Errorf("supervisor: starting history recorder: %w", err)
	}
	defer recorder.Shutdown()

	var ruleSet *ruleengine.TimedRuleSet
	if config.Keys.RuleEngine.Enabled {
		ruleSet, err = ruleengine.Load(config.Keys.RuleEngine.Path)
		if err != nil {
			return fmt.Errorf("supervisor: loading rule engine config: %w", err)
		}
	}

	engine := decision.New(cs, b, st, sandbox, cs.ProbeValues, config.Keys.RuleEngine.Enabled, ruleSet, probes.Keys)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- startModePoll(runCtx, b)
	}()
	go func() {
		errCh <- engine.Run(runCtx)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		cancel()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}

// startModePoll publishes the periodic mode/pinstate keep-alive GET requests
// supplemented from original_source/src/hvac/mod.rs (SPEC_FULL.md §3).
func startModePoll(ctx context.Context, b *bus.Bus) error {
	interval, err := time.ParseDuration(config.Keys.History.ModePollInterval)
	if err != nil {
		interval = 500 * time.Second
	}
	pinInterval, err := time.ParseDuration(config.Keys.History.PinPollInterval)
	if err != nil {
		pinInterval = 60 * time.Second
	}

	modeTicker := time.NewTicker(interval)
	defer modeTicker.Stop()
	pinTicker := time.NewTicker(pinInterval)
	defer pinTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-modeTicker.C:
			b.Publish(hvac.Topics.ModeGet, nil, false, 0)
		case <-pinTicker.C:
			b.Publish(hvac.Topics.PinstateGet, nil, false, 0)
		}
	}
}

func hydrate(b *bus.Bus, st *store.Store, cs *state.CommonState) error {
	text, ok, err := st.Get(hvac.Keys.SavedScript)
	if err != nil {
		return err
	}
	if !ok {
		text = DefaultScript
		if err := st.Set(hvac.Keys.SavedScript, text); err != nil {
			return err
		}
	}
	cs.SetScript(text, time.Now())

	if t, ok, err := override.LoadTimed(st); err != nil {
		return err
	} else if ok {
		cs.SetTimedOverride(t)
	}

	if o, ok, err := override.LoadOneshot(st); err != nil {
		return err
	} else if ok {
		cs.SetOneshotOverride(o)
	}

	cclog.Info("supervisor: state hydrated from store")
	return nil
}

func publishHydratedOverrides(b *bus.Bus, cs *state.CommonState) {
	t, ok := cs.TimedOverride()
	b.Publish(hvac.Topics.TimedOverride, override.EncodeTimed(t, ok), true, 0)

	o, ok := cs.OneshotOverride()
	b.Publish(hvac.Topics.OneshotOverride, override.EncodeOneshot(o, ok), true, 0)
}

func scriptDeps(b *bus.Bus, st *store.Store, cs *state.CommonState) script.Deps {
	return script.Deps{
		ProbeValue: func(name string) (float64, bool) {
			v, ok := cs.ProbeValues()[name]
			return v, ok
		},
		MqttSubscribe: func(topic string) {
			cs.RetainedSet(topic, "")
			if err := b.Subscribe(topic); err != nil {
				cclog.Warnf("script: subscribing %s: %s", topic, err.Error())
			}
		},
		MqttGet: cs.RetainedGet,
		StoreGet: func(key string) (string, bool, error) { return st.Get(key) },
		StoreSet: st.Set,
		StoreDel: st.Del,
		StoreHGet: func(key, field string) (string, bool, error) { return st.HGet(key, field) },
		StoreHSet: st.HSet,
		StoreHDel: st.HDel,
	}
}

// RestartLoop runs Run repeatedly, applying the pileon backoff of spec.md
// §8 scenario 6: each failure within 60s of the previous one increments
// pileonFails, a failure after a longer gap resets it to 1, and the sleep is
// pileonFails² seconds, capped at 60s. There is no separate linear phase.
func RestartLoop(ctx context.Context) error {
	var pileonFails int
	var lastFailure time.Time

	for {
		start := time.Now()
		err := Run(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return nil
		}

		cclog.Errorf("supervisor: restarting after error: %s", err.Error())

		if time.Since(lastFailure) < 60*time.Second {
			pileonFails++
		} else {
			pileonFails = 1
		}
		lastFailure = time.Now()

		sleep := time.Duration(pileonFails*pileonFails) * time.Second
		if sleep > 60*time.Second {
			sleep = 60 * time.Second
		}

		cclog.Warnf("supervisor: sleeping %s before restart (pileon=%d, ran %s)", sleep, pileonFails, time.Since(start))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

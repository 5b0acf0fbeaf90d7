// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/homelab/thermostatd/internal/hvac"
	"github.com/homelab/thermostatd/internal/script"
	"github.com/homelab/thermostatd/internal/state"
)

type fakeBus struct {
	published map[string]string
}

func newFakeBus() *fakeBus { return &fakeBus{published: make(map[string]string)} }

func (f *fakeBus) Publish(topic string, payload []byte, retained bool, qos int) {
	f.published[topic] = string(payload)
}

type fakeStore struct{ values map[string]string }

func newFakeStore() *fakeStore { return &fakeStore{values: make(map[string]string)} }

func (f *fakeStore) Get(key string) (string, bool, error) {
	v, ok := f.values[key]
	return v, ok, nil
}
func (f *fakeStore) Set(key, value string) error { f.values[key] = value; return nil }
func (f *fakeStore) Del(key string) error         { delete(f.values, key); return nil }

func newEngine(t *testing.T, cs *state.CommonState, b *fakeBus, st *fakeStore, probeValues map[string]float64) *Engine {
	t.Helper()
	sandbox := script.New(script.Deps{
		ProbeValue: func(name string) (float64, bool) {
			v, ok := probeValues[name]
			return v, ok
		},
	}, 8)
	t.Cleanup(sandbox.Close)

	return New(cs, b, st, sandbox, func() map[string]float64 { return probeValues }, false, nil, func() []string { return nil })
}

func TestTimedOverrideSupersedesScript(t *testing.T) {
	cs := state.New()
	cs.SetScript(`function evaluate(s) return 'heat' end`, time.Now())
	cs.SetTimedOverride(state.TimedOverride{Command: hvac.Off, Expiration: time.Now().Add(5 * time.Minute)})

	b := newFakeBus()
	st := newFakeStore()
	e := newEngine(t, cs, b, st, map[string]float64{"primary": 20})

	e.checkHotReload()
	call, has := e.evaluate(time.Now())
	require.True(t, has)
	require.Equal(t, hvac.Off, call)
}

func TestExpiredTimedOverrideClearsAndFallsThrough(t *testing.T) {
	cs := state.New()
	cs.SetScript(`function evaluate(s) return 'heat' end`, time.Now())
	cs.SetTimedOverride(state.TimedOverride{Command: hvac.Off, Expiration: time.Now().Add(-1 * time.Second)})

	b := newFakeBus()
	st := newFakeStore()
	st.values[hvac.Keys.TimedOverride] = `{"command":"off","expiration":"2099-01-01T00:00:00Z"}`
	e := newEngine(t, cs, b, st, map[string]float64{"primary": 20})
	e.checkHotReload()

	call, has := e.evaluate(time.Now())
	require.True(t, has)
	require.Equal(t, hvac.Heat, call)

	_, ok := cs.TimedOverride()
	require.False(t, ok)
	require.Equal(t, "null", b.published[hvac.Topics.TimedOverride])
	_, stillPersisted, _ := st.Get(hvac.Keys.TimedOverride)
	require.False(t, stillPersisted)
}

func TestOneshotOverrideClearsOnGoalMet(t *testing.T) {
	cs := state.New()
	cs.SetScript(`function evaluate(s) return 'heat' end`, time.Now())
	cs.SetOneshotOverride(state.OneshotOverride{Command: hvac.Cool, Comparison: state.Less, Setpoint: 20.5, Probe: "primary"})

	b := newFakeBus()
	st := newFakeStore()
	e := newEngine(t, cs, b, st, map[string]float64{"primary": 20.0})
	e.checkHotReload()

	call, has := e.evaluate(time.Now())
	require.True(t, has)
	require.Equal(t, hvac.Heat, call)

	_, ok := cs.OneshotOverride()
	require.False(t, ok)
	require.Equal(t, "null", b.published[hvac.Topics.OneshotOverride])
}

func TestOneshotOverrideStillWorkingTowardGoal(t *testing.T) {
	cs := state.New()
	cs.SetScript(`function evaluate(s) return 'heat' end`, time.Now())
	cs.SetOneshotOverride(state.OneshotOverride{Command: hvac.Cool, Comparison: state.Less, Setpoint: 20.5, Probe: "primary"})

	b := newFakeBus()
	st := newFakeStore()
	e := newEngine(t, cs, b, st, map[string]float64{"primary": 22.0})
	e.checkHotReload()

	call, has := e.evaluate(time.Now())
	require.True(t, has)
	require.Equal(t, hvac.Cool, call)

	_, ok := cs.OneshotOverride()
	require.True(t, ok)
}

func TestMissingProbeClearsOneshotOverride(t *testing.T) {
	cs := state.New()
	cs.SetScript(`function evaluate(s) return 'heat' end`, time.Now())
	cs.SetOneshotOverride(state.OneshotOverride{Command: hvac.Cool, Comparison: state.Less, Setpoint: 20.5, Probe: "missing"})

	b := newFakeBus()
	st := newFakeStore()
	e := newEngine(t, cs, b, st, map[string]float64{"primary": 22.0})
	e.checkHotReload()

	_, has := e.evaluate(time.Now())
	require.True(t, has)

	_, ok := cs.OneshotOverride()
	require.False(t, ok)
}

func TestHotReloadSyntaxErrorPreservesPreviousBehavior(t *testing.T) {
	cs := state.New()
	cs.SetScript(`function evaluate(s) return 'heat' end`, time.Now())

	b := newFakeBus()
	st := newFakeStore()
	e := newEngine(t, cs, b, st, map[string]float64{"primary": 20})
	e.checkHotReload()

	call, has := e.evaluate(time.Now())
	require.True(t, has)
	require.Equal(t, hvac.Heat, call)

	cs.SetScript(`function evaluate(`, time.Now().Add(time.Second))
	e.checkHotReload()

	require.Contains(t, b.published[hvac.Topics.ScriptError], `"success":false`)

	call, has = e.evaluate(time.Now())
	require.True(t, has)
	require.Equal(t, hvac.Heat, call)
}

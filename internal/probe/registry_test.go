// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package probe

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAtomicFloatRoundTrip(t *testing.T) {
	var f atomicFloat
	require.Zero(t, f.load())

	f.store(21.5)
	require.Equal(t, 21.5, f.load())
}

func TestAtomicInt64RoundTrip(t *testing.T) {
	var i atomicInt64
	require.Zero(t, i.load())

	i.store(1234)
	require.Equal(t, int64(1234), i.load())
}

// newProbes builds a Registry with probes inserted directly (bypassing
// Create, which requires a live bus connection), for testing the read-side
// methods in isolation.
func newProbes(values map[string]float64) *Registry {
	r := &Registry{probes: make(map[string]*Probe)}
	for name, v := range values {
		p := &Probe{Name: name}
		p.value.store(v)
		p.lastUpdateMs.store(1000)
		r.probes[name] = p
	}
	return r
}

func TestRegistryGetAndReading(t *testing.T) {
	r := newProbes(map[string]float64{"primary": 68.5})

	p, ok := r.Get("primary")
	require.True(t, ok)
	v, ts := p.Reading()
	require.Equal(t, 68.5, v)
	require.Equal(t, int64(1000), ts)

	v2, ts2, ok2 := r.Reading("primary")
	require.True(t, ok2)
	require.Equal(t, 68.5, v2)
	require.Equal(t, int64(1000), ts2)

	_, ok3 := r.Get("missing")
	require.False(t, ok3)
	_, _, ok4 := r.Reading("missing")
	require.False(t, ok4)
}

func TestRegistryKeys(t *testing.T) {
	r := newProbes(map[string]float64{"primary": 68, "outdoor": 55})

	keys := r.Keys()
	require.ElementsMatch(t, []string{"primary", "outdoor"}, keys)
}

func TestNewProbeValueIsNaNUntilFirstReading(t *testing.T) {
	p := &Probe{Name: "fresh"}
	p.value.store(math.NaN())

	v, ts := p.Reading()
	require.True(t, math.IsNaN(v))
	require.Zero(t, ts)
}

type fakeProber struct {
	hset map[string]string
	hdel []string
}

func (f *fakeProber) HSet(key, field, value string) error {
	if f.hset == nil {
		f.hset = make(map[string]string)
	}
	f.hset[field] = value
	return nil
}

func (f *fakeProber) HDel(key, field string) error {
	f.hdel = append(f.hdel, field)
	return nil
}

func (f *fakeProber) HGetAll(key string) (map[string]string, error) {
	return f.hset, nil
}

func TestRegistryDeletePersistsAndRemoves(t *testing.T) {
	r := newProbes(map[string]float64{"primary": 68})
	fp := &fakeProber{hset: map[string]string{"primary": "home/thermostat/temp"}}
	r.store = fp

	require.NoError(t, r.Delete("primary"))

	_, ok := r.Get("primary")
	require.False(t, ok)
	require.Equal(t, []string{"primary"}, fp.hdel)
}

func TestRegistryHydrateWithNoEndpointsIsNoop(t *testing.T) {
	r := &Registry{probes: make(map[string]*Probe), store: &fakeProber{}}
	require.NoError(t, r.Hydrate())
	require.Empty(t, r.Keys())
}

// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package probe is the probe registry (spec.md §4.C): a process-global
// name -> Probe map, each entry holding the last reading and the timestamp
// it arrived, refreshed from bus topics.
package probe

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/homelab/thermostatd/internal/bus"
	"github.com/homelab/thermostatd/internal/hvac"
	"github.com/homelab/thermostatd/internal/state"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// Probe is a named temperature sensor with its most recent reading. Value is
// NaN until the first successful parse (spec.md §3).
type Probe struct {
	Name         string
	Topic        string
	value        atomicFloat
	lastUpdateMs atomicInt64
}

// Reading returns the current value and the wall-clock ms timestamp it was
// recorded at.
func (p *Probe) Reading() (value float64, lastUpdateMs int64) {
	return p.value.load(), p.lastUpdateMs.load()
}

// Registry is the process-global probe map.
type Registry struct {
	bus   *bus.Bus
	store prober
	state *state.CommonState

	mu     sync.RWMutex
	probes map[string]*Probe
}

// prober is the subset of *store.Store the registry needs, kept narrow so
// tests can substitute a fake.
type prober interface {
	HSet(key, field, value string) error
	HDel(key, field string) error
	HGetAll(key string) (map[string]string, error)
}

// New returns an empty registry wired to b for subscriptions and st for
// persisting the probe_endpoints hash.
func New(b *bus.Bus, st prober, cs *state.CommonState) *Registry {
	return &Registry{bus: b, store: st, state: cs, probes: make(map[string]*Probe)}
}

// Get returns the named probe, or ok=false if it does not exist.
func (r *Registry) Get(name string) (*Probe, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.probes[name]
	return p, ok
}

// Reading looks up a probe by name and returns its current value and
// last-update timestamp, for callers (the history recorder) that don't need
// the *Probe handle itself.
func (r *Registry) Reading(name string) (value float64, lastUpdateMs int64, ok bool) {
	p, found := r.Get(name)
	if !found {
		return 0, 0, false
	}
	v, ts := p.Reading()
	return v, ts, true
}

// Keys returns every registered probe name.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.probes))
	for k := range r.probes {
		out = append(out, k)
	}
	return out
}

// Create registers a new probe, persists it to probe_endpoints, and
// subscribes to its topic so readings flow in automatically.
func (r *Registry) Create(name, topic string) error {
	p := &Probe{Name: name, Topic: topic}
	p.value.store(math.NaN())

	r.mu.Lock()
	r.probes[name] = p
	r.mu.Unlock()

	if err := r.store.HSet(hvac.Keys.ProbeEndpoints, name, topic); err != nil {
		return err
	}

	r.bus.Handle(topic, func(_ string, payload []byte) {
		v, err := strconv.ParseFloat(string(payload), 32)
		if err != nil {
			cclog.Warnf("probe: %s: malformed reading %q: %s", name, payload, err.Error())
			return
		}
		now := time.Now().UnixMilli()
		p.value.store(v)
		p.lastUpdateMs.store(now)
		r.state.SetProbeValue(name, v)
	})

	return r.bus.Subscribe(topic)
}

// Delete removes a probe and its persisted endpoint entry.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	delete(r.probes, name)
	r.mu.Unlock()
	return r.store.HDel(hvac.Keys.ProbeEndpoints, name)
}

// Hydrate recreates every probe persisted in probe_endpoints. Called by the
// supervisor at startup (spec.md §4.I).
func (r *Registry) Hydrate() error {
	endpoints, err := r.store.HGetAll(hvac.Keys.ProbeEndpoints)
	if err != nil {
		return err
	}
	for name, topic := range endpoints {
		if err := r.Create(name, topic); err != nil {
			return err
		}
	}
	return nil
}

// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package state holds CommonState (spec.md §3/§4.H): the process-wide
// snapshot shared by the bus-event task, decision task, and script sandbox.
// Every field except retained_keys is an atomically swappable immutable
// snapshot (sync/atomic.Pointer), avoiding cross-task locks on the hot path;
// retained_keys alone needs interior mutability because the bus-event task
// writes it while the script reads it concurrently, so it is guarded by an
// RWMutex as spec.md §4.H and §5 require.
package state

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/homelab/thermostatd/internal/hvac"
)

// ScriptRecord is the persisted script source plus its hot-reload version.
type ScriptRecord struct {
	Text    string
	Version time.Time
}

// TimedOverride is a time-bounded override command (spec.md §3).
type TimedOverride struct {
	Command    hvac.Call `json:"command"`
	Expiration time.Time `json:"expiration"`
}

// Expired reports whether the override's expiration has passed as of now.
func (t TimedOverride) Expired(now time.Time) bool {
	return t.Expiration.Before(now)
}

// Comparison is the OneshotOverride goal direction.
type Comparison string

const (
	Less    Comparison = "less"
	Greater Comparison = "greater"
)

// OneshotOverride is a goal-bounded override (spec.md §3).
type OneshotOverride struct {
	Command    hvac.Call  `json:"command"`
	Comparison Comparison `json:"comparison"`
	Setpoint   float64    `json:"setpoint"`
	Probe      string     `json:"probe"`
}

// Met reports whether the measured value has reached the override's goal:
// (Less, setpoint) clears once value < setpoint; (Greater, setpoint) clears
// once value > setpoint (spec.md §4.G step 3).
func (o OneshotOverride) Met(value float64) bool {
	switch o.Comparison {
	case Less:
		return value < o.Setpoint
	case Greater:
		return value > o.Setpoint
	default:
		return false
	}
}

// CommonState is the shared snapshot container. The zero value is not ready
// for use; call New.
type CommonState struct {
	mode            atomic.Pointer[hvac.Call]
	lastCall        atomic.Pointer[hvac.Call]
	timedOverride   atomic.Pointer[TimedOverride]   // nil pointer == absent
	oneshotOverride atomic.Pointer[OneshotOverride] // nil pointer == absent
	script          atomic.Pointer[ScriptRecord]
	probeValues     atomic.Pointer[map[string]float64]

	retainedMu  sync.RWMutex
	retainedMap map[string]string
}

// New returns an empty CommonState: mode/last_call Off, no overrides, an
// empty script record, an empty probe-value cache.
func New() *CommonState {
	s := &CommonState{retainedMap: make(map[string]string)}

	off := hvac.Off
	s.mode.Store(&off)
	lc := hvac.Off
	s.lastCall.Store(&lc)
	s.script.Store(&ScriptRecord{})
	empty := make(map[string]float64)
	s.probeValues.Store(&empty)

	return s
}

// Mode / SetMode.
func (s *CommonState) Mode() hvac.Call { return *s.mode.Load() }
func (s *CommonState) SetMode(c hvac.Call) {
	v := c
	s.mode.Store(&v)
}

// LastCall / SetLastCall.
func (s *CommonState) LastCall() hvac.Call { return *s.lastCall.Load() }
func (s *CommonState) SetLastCall(c hvac.Call) {
	v := c
	s.lastCall.Store(&v)
}

// TimedOverride returns the current override snapshot, or ok=false if absent.
func (s *CommonState) TimedOverride() (TimedOverride, bool) {
	p := s.timedOverride.Load()
	if p == nil {
		return TimedOverride{}, false
	}
	return *p, true
}

// SetTimedOverride replaces the timed override snapshot.
func (s *CommonState) SetTimedOverride(t TimedOverride) {
	s.timedOverride.Store(&t)
}

// ClearTimedOverride marks the override absent.
func (s *CommonState) ClearTimedOverride() {
	s.timedOverride.Store(nil)
}

// OneshotOverride returns the current override snapshot, or ok=false if absent.
func (s *CommonState) OneshotOverride() (OneshotOverride, bool) {
	p := s.oneshotOverride.Load()
	if p == nil {
		return OneshotOverride{}, false
	}
	return *p, true
}

// SetOneshotOverride replaces the oneshot override snapshot.
func (s *CommonState) SetOneshotOverride(o OneshotOverride) {
	s.oneshotOverride.Store(&o)
}

// ClearOneshotOverride marks the override absent.
func (s *CommonState) ClearOneshotOverride() {
	s.oneshotOverride.Store(nil)
}

// Script returns the current script record snapshot.
func (s *CommonState) Script() ScriptRecord {
	return *s.script.Load()
}

// SetScript replaces the script record, bumping version to now if text
// changed (spec.md §3: "version increments whenever text changes").
func (s *CommonState) SetScript(text string, now time.Time) ScriptRecord {
	cur := s.Script()
	if cur.Text == text {
		return cur
	}
	rec := ScriptRecord{Text: text, Version: now}
	s.script.Store(&rec)
	return rec
}

// ProbeValues returns a snapshot copy of the probe value cache.
func (s *CommonState) ProbeValues() map[string]float64 {
	p := s.probeValues.Load()
	out := make(map[string]float64, len(*p))
	for k, v := range *p {
		out[k] = v
	}
	return out
}

// SetProbeValue updates a single probe's cached value by rebuilding the
// snapshot map (spec.md §4.H: "updates rebuild the snapshot if the value is
// compound").
func (s *CommonState) SetProbeValue(name string, value float64) {
	for {
		old := s.probeValues.Load()
		next := make(map[string]float64, len(*old)+1)
		for k, v := range *old {
			next[k] = v
		}
		next[name] = value
		if s.probeValues.CompareAndSwap(old, &next) {
			return
		}
	}
}

// RetainedGet returns the last-seen payload for a topic the script
// subscribed to at runtime.
func (s *CommonState) RetainedGet(topic string) (string, bool) {
	s.retainedMu.RLock()
	defer s.retainedMu.RUnlock()
	v, ok := s.retainedMap[topic]
	return v, ok
}

// RetainedSet records the last-seen payload for topic.
func (s *CommonState) RetainedSet(topic, payload string) {
	s.retainedMu.Lock()
	defer s.retainedMu.Unlock()
	s.retainedMap[topic] = payload
}

// RetainedTopics returns the set of topics currently tracked.
func (s *CommonState) RetainedTopics() []string {
	s.retainedMu.RLock()
	defer s.retainedMu.RUnlock()
	out := make([]string, 0, len(s.retainedMap))
	for k := range s.retainedMap {
		out = append(out, k)
	}
	return out
}

// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package history

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/homelab/thermostatd/internal/hvac"
)

type fakeHistoryStore struct {
	lists map[string][]string
}

func newFakeHistoryStore() *fakeHistoryStore {
	return &fakeHistoryStore{lists: make(map[string][]string)}
}

func (f *fakeHistoryStore) LHead(key string) (string, bool, error) {
	l := f.lists[key]
	if len(l) == 0 {
		return "", false, nil
	}
	return l[0], true, nil
}

func (f *fakeHistoryStore) LPush(key, value string) error {
	f.lists[key] = append([]string{value}, f.lists[key]...)
	return nil
}

func (f *fakeHistoryStore) LTrim(key string, maxLen int) error {
	if len(f.lists[key]) > maxLen {
		f.lists[key] = f.lists[key][:maxLen]
	}
	return nil
}

type fakeLister struct {
	values map[string]float64
}

func (f *fakeLister) Keys() []string {
	out := make([]string, 0, len(f.values))
	for k := range f.values {
		out = append(out, k)
	}
	return out
}

func (f *fakeLister) Reading(name string) (float64, int64, bool) {
	v, ok := f.values[name]
	return v, 1000, ok
}

func TestRecordProbesDedupesOnValue(t *testing.T) {
	st := newFakeHistoryStore()
	probes := &fakeLister{values: map[string]float64{"primary": 20.5}}
	r := &Recorder{store: st, probes: probes, maxLen: hvac.MaxHistoryLen}

	r.recordProbes()
	r.recordProbes()
	r.recordProbes()

	require.Len(t, st.lists[hvac.ProbeHistoryKey("primary")], 1)
}

func TestRecordProbesNewEntryOnChange(t *testing.T) {
	st := newFakeHistoryStore()
	probes := &fakeLister{values: map[string]float64{"primary": 20.5}}
	r := &Recorder{store: st, probes: probes, maxLen: hvac.MaxHistoryLen}

	r.recordProbes()
	probes.values["primary"] = 21.0
	r.recordProbes()

	require.Len(t, st.lists[hvac.ProbeHistoryKey("primary")], 2)
}

func TestRecordPinstateDedupesOnFirstLetter(t *testing.T) {
	st := newFakeHistoryStore()
	r := &Recorder{store: st, maxLen: hvac.MaxHistoryLen}

	r.recordPinstate(hvac.Topics.Pinstate, []byte("heat"))
	r.recordPinstate(hvac.Topics.Pinstate, []byte("heat"))
	require.Len(t, st.lists[hvac.Keys.PinstateHistory], 1)

	r.recordPinstate(hvac.Topics.Pinstate, []byte("cool"))
	require.Len(t, st.lists[hvac.Keys.PinstateHistory], 2)
}

func TestRecordPinstateTrimsToMaxLen(t *testing.T) {
	st := newFakeHistoryStore()
	r := &Recorder{store: st, maxLen: 2}

	r.recordPinstate(hvac.Topics.Pinstate, []byte("heat"))
	r.recordPinstate(hvac.Topics.Pinstate, []byte("cool"))
	r.recordPinstate(hvac.Topics.Pinstate, []byte("off"))

	require.Len(t, st.lists[hvac.Keys.PinstateHistory], 2)
}

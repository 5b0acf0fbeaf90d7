// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package history runs the two background historian jobs (spec.md §4.D):
// the probe historian (periodic, every probe, head-deduplicated lpush+ltrim)
// and the pinstate historian (subscribed to the relay's reported-state
// topic, head-deduplicated on the call's first letter). The probe historian
// is scheduled the way internal/taskmanager registers its periodic services
// in the teacher, via gocron; the pinstate historian runs as a bus handler.
package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/homelab/thermostatd/internal/bus"
	"github.com/homelab/thermostatd/internal/hvac"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// lister is the subset of *probe.Registry the probe historian needs.
type lister interface {
	Keys() []string
	Reading(name string) (value float64, lastUpdateMs int64, ok bool)
}

// historyStore is the subset of *store.Store the historian needs.
type historyStore interface {
	LHead(key string) (string, bool, error)
	LPush(key, value string) error
	LTrim(key string, maxLen int) error
}

// Recorder owns the scheduler running both historian jobs.
type Recorder struct {
	sched    gocron.Scheduler
	store    historyStore
	probes   lister
	b        *bus.Bus
	maxLen   int
}

// New constructs a Recorder. The probe-historian cadence is set later by
// Start's probeInterval (spec.md §4.D default: 5s).
func New(b *bus.Bus, st historyStore, probes lister) (*Recorder, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("history: creating scheduler: %w", err)
	}
	return &Recorder{sched: sched, store: st, probes: probes, b: b, maxLen: hvac.MaxHistoryLen}, nil
}

// Start registers the probe historian job at probeInterval and subscribes
// the pinstate historian to the relay's reported-state topic, then starts
// the scheduler.
func (r *Recorder) Start(probeInterval time.Duration) error {
	_, err := r.sched.NewJob(
		gocron.DurationJob(probeInterval),
		gocron.NewTask(r.recordProbes),
	)
	if err != nil {
		return fmt.Errorf("history: scheduling probe historian: %w", err)
	}

	r.b.Handle(hvac.Topics.Pinstate, r.recordPinstate)
	if err := r.b.Subscribe(hvac.Topics.Pinstate); err != nil {
		return fmt.Errorf("history: subscribing to pinstate: %w", err)
	}

	r.sched.Start()
	cclog.Infof("history: recorder started (probe interval %s)", probeInterval)
	return nil
}

// Shutdown stops the scheduler.
func (r *Recorder) Shutdown() error {
	return r.sched.Shutdown()
}

func (r *Recorder) recordProbes() {
	for _, name := range r.probes.Keys() {
		value, lastUpdateMs, ok := r.probes.Reading(name)
		if !ok || value != value { // NaN check without importing math
			continue
		}

		entry := fmt.Sprintf("%g:%d", value, lastUpdateMs)
		key := hvac.ProbeHistoryKey(name)

		head, hasHead, err := r.store.LHead(key)
		if err != nil {
			cclog.Errorf("history: reading head of %s: %s", key, err.Error())
			continue
		}
		if hasHead && sameValuePrefix(head, entry) {
			continue
		}

		if err := r.store.LPush(key, entry); err != nil {
			cclog.Errorf("history: lpush %s: %s", key, err.Error())
			continue
		}
		if err := r.store.LTrim(key, r.maxLen); err != nil {
			cclog.Errorf("history: ltrim %s: %s", key, err.Error())
		}
	}
}

func (r *Recorder) recordPinstate(_ string, payload []byte) {
	call, ok := hvac.FromPayload(payload)
	if !ok {
		cclog.Warnf("history: malformed pinstate payload %q", payload)
		return
	}

	key := hvac.Keys.PinstateHistory
	entry := fmt.Sprintf("%s:%d", call.Payload(), time.Now().UnixMilli())

	head, hasHead, err := r.store.LHead(key)
	if err != nil {
		cclog.Errorf("history: reading pinstate head: %s", err.Error())
		return
	}

	if hasHead && firstLetter(head) == firstLetter(entry) {
		return
	}

	if err := r.store.LPush(key, entry); err != nil {
		cclog.Errorf("history: lpush pinstate: %s", err.Error())
		return
	}
	if err := r.store.LTrim(key, r.maxLen); err != nil {
		cclog.Errorf("history: ltrim pinstate: %s", err.Error())
	}
}

// sameValuePrefix compares the "<value>:" prefix of two history entries,
// i.e. dedup ignores the timestamp suffix (spec.md §4.D: "If not equal to
// the current list head").
func sameValuePrefix(head, entry string) bool {
	return valuePrefix(head) == valuePrefix(entry)
}

func valuePrefix(entry string) string {
	if idx := strings.IndexByte(entry, ':'); idx >= 0 {
		return entry[:idx]
	}
	return entry
}

func firstLetter(entry string) byte {
	if len(entry) == 0 {
		return 0
	}
	return entry[0]
}

// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package script is the embedded script sandbox (spec.md §4.F). It owns a
// gopher-lua interpreter instance and serializes every operation onto a
// single dedicated goroutine — the interpreter's values are not safe to
// touch from any other goroutine, mirroring the mlua single-thread-affinity
// requirement in original_source/thermostatd/src/scripting.rs. Callers queue
// closures through a bounded channel and block on the result, matching
// spec.md §5's "channel to the dedicated executor" suspension point.
package script

import (
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/homelab/thermostatd/internal/hvac"
)

// ErrQueueFull is returned when the executor's request queue is saturated
// (spec.md §4.F: "on queue-full, callers fail fast").
var ErrQueueFull = errors.New("script: executor queue full")

// Deps are the script's access points into the rest of the daemon: probe
// reads, mqtt retained subscribe/get, and the durable store pass-through.
type Deps struct {
	ProbeValue    func(name string) (float64, bool)
	MqttSubscribe func(topic string)
	MqttGet       func(topic string) (string, bool)
	StoreGet      func(key string) (string, bool, error)
	StoreSet      func(key, value string) error
	StoreDel      func(key string) error
	StoreHGet     func(key, field string) (string, bool, error)
	StoreHSet     func(key, field, value string) error
	StoreHDel     func(key, field string) error
}

// Snapshot is the CommonState data a script call needs; it is immutable for
// the duration of one call, matching spec.md §5's "consistent snapshot"
// guarantee.
type Snapshot struct {
	Mode       hvac.Call
	LastResult hvac.Call
}

type request struct {
	fn     func() error
	result chan error
}

// StepError tags which lifecycle step (per spec.md §7's "error_at") produced
// an error, so the decision engine can report the step that actually failed
// instead of guessing from which Sandbox method returned it.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return e.Step + ": " + e.Err.Error() }
func (e *StepError) Unwrap() error { return e.Err }

// Sandbox owns the persistent interpreter and its executor goroutine.
type Sandbox struct {
	deps Deps

	queue chan request
	quit  chan struct{}

	issues *issueSet

	// current and loaded are only touched from the executor goroutine.
	current *lua.LState
	loaded  bool
}

// New starts the dedicated executor goroutine with a bounded request queue
// of depth queueDepth.
func New(deps Deps, queueDepth int) *Sandbox {
	s := &Sandbox{
		deps:   deps,
		queue:  make(chan request, queueDepth),
		quit:   make(chan struct{}),
		issues: newIssueSet(),
	}
	go s.run()
	return s
}

// Close stops the executor goroutine. Pending requests are dropped, causing
// their callers to observe a closed-queue error (spec.md §5 cancellation
// policy: "no attempt to drain in-flight script calls").
func (s *Sandbox) Close() {
	close(s.quit)
}

func (s *Sandbox) run() {
	s.current = lua.NewState()
	defer func() {
		if s.current != nil {
			s.current.Close()
		}
	}()

	for {
		select {
		case <-s.quit:
			return
		case req := <-s.queue:
			req.result <- req.fn()
		}
	}
}

// submit enqueues fn to run on the executor thread and blocks for its
// result. Fails fast if the queue is full.
func (s *Sandbox) submit(fn func() error) error {
	req := request{fn: fn, result: make(chan error, 1)}
	select {
	case s.queue <- req:
	default:
		return ErrQueueFull
	}

	select {
	case err := <-req.result:
		return err
	case <-s.quit:
		return fmt.Errorf("script: sandbox closed")
	}
}

// Issues returns the diagnostic strings accumulated since the last Validate.
func (s *Sandbox) Issues() []string {
	return s.issues.snapshot()
}

// Validate creates a fresh interpreter, loads text, runs evaluate() once,
// and returns its result plus any issues — without mutating the persistent
// interpreter or live state (spec.md §4.F). On the executor goroutine.
func (s *Sandbox) Validate(text string, snap Snapshot) (call hvac.Call, has bool, issues []string, err error) {
	submitErr := s.submit(func() error {
		call, has, issues, err = s.validate(text, snap)
		return nil
	})
	if submitErr != nil {
		return hvac.Off, false, nil, submitErr
	}
	return call, has, issues, err
}

func (s *Sandbox) validate(text string, snap Snapshot) (call hvac.Call, has bool, issues []string, err error) {
	s.issues.clear()

	fresh := lua.NewState()
	defer fresh.Close()

	if err := fresh.DoString(text); err != nil {
		return hvac.Off, false, s.issues.snapshot(), fmt.Errorf("test_script: %w", err)
	}

	fn := fresh.GetGlobal("evaluate")
	if fn.Type() != lua.LTFunction {
		return hvac.Off, false, s.issues.snapshot(), nil
	}

	tbl := s.buildStateTable(fresh, snap)
	if err := fresh.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, tbl); err != nil {
		return hvac.Off, false, s.issues.snapshot(), fmt.Errorf("test_script: evaluate: %w", err)
	}
	ret := fresh.Get(-1)
	fresh.Pop(1)

	call, has, err = parseCallReturn(ret)
	return call, has, s.issues.snapshot(), err
}

// Load builds a scratch interpreter, loads text into it, and calls init(state)
// if defined — exactly as Validate does — and only swaps it into the
// persistent executor slot once both steps succeed. This keeps the hot-reload
// atomic (spec.md §5): if load or init fails, the previously loaded script
// keeps serving evaluate/tick/on_message, since the persistent interpreter
// was never touched. On the executor goroutine.
func (s *Sandbox) Load(text string, snap Snapshot) error {
	return s.submit(func() error {
		fresh := lua.NewState()

		if err := fresh.DoString(text); err != nil {
			fresh.Close()
			return &StepError{Step: "load_script", Err: err}
		}

		if fn := fresh.GetGlobal("init"); fn.Type() == lua.LTFunction {
			tbl := s.buildStateTable(fresh, snap)
			if err := fresh.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, tbl); err != nil {
				fresh.Close()
				return &StepError{Step: "init_script", Err: err}
			}
		}

		if s.current != nil {
			s.current.Close()
		}
		s.current = fresh
		s.loaded = true
		return nil
	})
}

// Evaluate calls the persistent interpreter's evaluate(state).
func (s *Sandbox) Evaluate(snap Snapshot) (call hvac.Call, has bool, err error) {
	err = s.submit(func() error {
		L := s.current
		fn := L.GetGlobal("evaluate")
		if fn.Type() != lua.LTFunction {
			return nil
		}

		tbl := s.buildStateTable(L, snap)
		if callErr := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, tbl); callErr != nil {
			return fmt.Errorf("evaluate_script: %w", callErr)
		}
		ret := L.Get(-1)
		L.Pop(1)

		call, has, err = parseCallReturn(ret)
		return err
	})
	if err != nil {
		return hvac.Off, false, err
	}
	return call, has, nil
}

// Tick calls the optional tick(state); failures are logged by the caller,
// never abort the decision loop (spec.md §4.G step 2).
func (s *Sandbox) Tick(snap Snapshot) error {
	return s.submit(func() error {
		L := s.current
		fn := L.GetGlobal("tick")
		if fn.Type() != lua.LTFunction {
			return nil
		}
		tbl := s.buildStateTable(L, snap)
		if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, tbl); err != nil {
			return fmt.Errorf("tick_script: %w", err)
		}
		return nil
	})
}

// OnMessage calls the optional on_message(state, topic, payload).
func (s *Sandbox) OnMessage(snap Snapshot, topic, payload string) error {
	return s.submit(func() error {
		L := s.current
		fn := L.GetGlobal("on_message")
		if fn.Type() != lua.LTFunction {
			return nil
		}
		tbl := s.buildStateTable(L, snap)
		if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, tbl, lua.LString(topic), lua.LString(payload)); err != nil {
			return fmt.Errorf("on_message: %w", err)
		}
		return nil
	})
}

// parseCallReturn interprets a Lua evaluate() return value: nil leaves the
// call unset, a string is parsed via the HvacCall wire-form prefix rule.
func parseCallReturn(v lua.LValue) (hvac.Call, bool, error) {
	if v == lua.LNil {
		return hvac.Off, false, nil
	}
	s, ok := v.(lua.LString)
	if !ok {
		return hvac.Off, false, fmt.Errorf("evaluate returned non-string, non-nil value %v", v)
	}
	call, parsed := hvac.FromString(string(s))
	if !parsed {
		return hvac.Off, false, fmt.Errorf("evaluate returned unrecognized call %q", string(s))
	}
	return call, true, nil
}

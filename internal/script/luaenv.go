// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package script

import (
	"time"

	lua "github.com/yuin/gopher-lua"
)

// buildStateTable constructs the `state` table a script call receives:
// state.mode, state.last_result, state.probes[name].temperature,
// state.mqtt.subscribe/[topic], state.redis.get/set/del/hget/hset/hdel, and
// the state:timed_program{...} helper — the Go-side rendering of every
// script-visible object in spec.md §4.F.
func (s *Sandbox) buildStateTable(L *lua.LState, snap Snapshot) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("mode", lua.LString(snap.Mode.Payload()))
	tbl.RawSetString("last_result", lua.LString(snap.LastResult.Payload()))
	tbl.RawSetString("probes", s.buildProbesTable(L))
	tbl.RawSetString("mqtt", s.buildMqttTable(L))
	tbl.RawSetString("redis", s.buildRedisTable(L))
	tbl.RawSetString("timed_program", L.NewFunction(s.timedProgram))
	return tbl
}

func (s *Sandbox) buildProbesTable(L *lua.LState) *lua.LTable {
	tbl := L.NewTable()
	mt := L.NewTable()
	mt.RawSetString("__index", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(2)
		if s.deps.ProbeValue == nil {
			L.Push(lua.LNil)
			return 1
		}
		v, ok := s.deps.ProbeValue(name)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		handle := L.NewTable()
		handle.RawSetString("temperature", lua.LNumber(v))
		L.Push(handle)
		return 1
	}))
	L.SetMetatable(tbl, mt)
	return tbl
}

func (s *Sandbox) buildMqttTable(L *lua.LState) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("subscribe", L.NewFunction(func(L *lua.LState) int {
		topic := L.CheckString(1)
		if s.deps.MqttSubscribe != nil {
			s.deps.MqttSubscribe(topic)
		}
		return 0
	}))

	mt := L.NewTable()
	mt.RawSetString("__index", L.NewFunction(func(L *lua.LState) int {
		topic := L.CheckString(2)
		if s.deps.MqttGet == nil {
			L.Push(lua.LNil)
			return 1
		}
		v, ok := s.deps.MqttGet(topic)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(v))
		return 1
	}))
	L.SetMetatable(tbl, mt)
	return tbl
}

func (s *Sandbox) buildRedisTable(L *lua.LState) *lua.LTable {
	tbl := L.NewTable()

	tbl.RawSetString("get", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		if s.deps.StoreGet == nil {
			L.Push(lua.LNil)
			return 1
		}
		v, ok, err := s.deps.StoreGet(key)
		if err != nil || !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(v))
		return 1
	}))

	tbl.RawSetString("set", L.NewFunction(func(L *lua.LState) int {
		key, value := L.CheckString(1), L.CheckString(2)
		if s.deps.StoreSet != nil {
			_ = s.deps.StoreSet(key, value)
		}
		return 0
	}))

	tbl.RawSetString("del", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		if s.deps.StoreDel != nil {
			_ = s.deps.StoreDel(key)
		}
		return 0
	}))

	tbl.RawSetString("hget", L.NewFunction(func(L *lua.LState) int {
		key, field := L.CheckString(1), L.CheckString(2)
		if s.deps.StoreHGet == nil {
			L.Push(lua.LNil)
			return 1
		}
		v, ok, err := s.deps.StoreHGet(key, field)
		if err != nil || !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(v))
		return 1
	}))

	tbl.RawSetString("hset", L.NewFunction(func(L *lua.LState) int {
		key, field, value := L.CheckString(1), L.CheckString(2), L.CheckString(3)
		if s.deps.StoreHSet != nil {
			_ = s.deps.StoreHSet(key, field, value)
		}
		return 0
	}))

	tbl.RawSetString("hdel", L.NewFunction(func(L *lua.LState) int {
		key, field := L.CheckString(1), L.CheckString(2)
		if s.deps.StoreHDel != nil {
			_ = s.deps.StoreHDel(key, field)
		}
		return 0
	}))

	return tbl
}

// timedProgram implements state:timed_program{ ["HH:MM"] = fn, ... }: picks
// the latest entry whose key is at-or-before the current local wall-clock
// time, wrapping to the greatest key if none qualifies. Malformed keys are
// recorded as issues and skipped; an empty table returns nil. Ported from
// original_source/thermostatd/src/scripting.rs's ScriptState::timed_program.
func (s *Sandbox) timedProgram(L *lua.LState) int {
	// arg 1 is the state table (method-call receiver); arg 2 is the schedule.
	schedule := L.CheckTable(2)

	now := time.Now().Format("15:04")

	var bestKey, maxKey string
	var bestFn, maxFn lua.LValue

	schedule.ForEach(func(k, v lua.LValue) {
		keyStr, ok := k.(lua.LString)
		if !ok {
			s.issues.add("timed_program: non-string key")
			return
		}
		if _, err := time.Parse("15:04", string(keyStr)); err != nil {
			s.issues.add("timed_program: malformed time key " + string(keyStr))
			return
		}
		if v.Type() != lua.LTFunction {
			s.issues.add("timed_program: value for " + string(keyStr) + " is not a function")
			return
		}

		ks := string(keyStr)
		if maxKey == "" || ks > maxKey {
			maxKey, maxFn = ks, v
		}
		if ks <= now && (bestKey == "" || ks > bestKey) {
			bestKey, bestFn = ks, v
		}
	})

	chosen := bestFn
	if chosen == nil {
		chosen = maxFn
	}
	if chosen == nil {
		L.Push(lua.LNil)
		return 1
	}

	if err := L.CallByParam(lua.P{Fn: chosen, NRet: 1, Protect: true}); err != nil {
		s.issues.add("timed_program: " + err.Error())
		L.Push(lua.LNil)
		return 1
	}
	ret := L.Get(-1)
	L.Pop(1)
	L.Push(ret)
	return 1
}

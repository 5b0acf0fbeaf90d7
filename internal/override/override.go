// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package override persists and validates the two override records
// (spec.md §4.E): TimedOverride and OneshotOverride, both JSON-encoded under
// dedicated durable-store keys, with an absent value round-tripping as the
// bus's retained `null`.
package override

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/homelab/thermostatd/internal/hvac"
	"github.com/homelab/thermostatd/internal/state"
)

// timedOverrideSchema and oneshotOverrideSchema gate incoming JSON before it
// reaches CommonState, the same role pkg/schema's ConfigSchema plays for
// config.json in the teacher, reused here per SPEC_FULL.md §2.
const timedOverrideSchemaSrc = `{
	"type": "object",
	"properties": {
		"command": {"enum": ["off", "heat", "cool"]},
		"expiration": {"type": "string"}
	},
	"required": ["command", "expiration"],
	"additionalProperties": false
}`

const oneshotOverrideSchemaSrc = `{
	"type": "object",
	"properties": {
		"command": {"enum": ["off", "heat", "cool"]},
		"comparison": {"enum": ["less", "greater"]},
		"setpoint": {"type": "number"},
		"probe": {"type": "string"}
	},
	"required": ["command", "comparison", "setpoint", "probe"],
	"additionalProperties": false
}`

var (
	timedOverrideSchema   *jsonschema.Schema
	oneshotOverrideSchema *jsonschema.Schema
)

func init() {
	timedOverrideSchema = mustCompile("timed_override.json", timedOverrideSchemaSrc)
	oneshotOverrideSchema = mustCompile("oneshot_override.json", oneshotOverrideSchemaSrc)
}

func mustCompile(name, src string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, mustUnmarshalSchema(src)); err != nil {
		panic(fmt.Errorf("override: adding schema resource %s: %w", name, err))
	}
	s, err := c.Compile(name)
	if err != nil {
		panic(fmt.Errorf("override: compiling schema %s: %w", name, err))
	}
	return s
}

func mustUnmarshalSchema(src string) any {
	var v any
	if err := json.Unmarshal([]byte(src), &v); err != nil {
		panic(fmt.Errorf("override: invalid embedded schema: %w", err))
	}
	return v
}

// ParseTimed validates and decodes a `timed_override/set` payload.
func ParseTimed(payload []byte) (state.TimedOverride, error) {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return state.TimedOverride{}, fmt.Errorf("override: invalid JSON: %w", err)
	}
	if err := timedOverrideSchema.Validate(doc); err != nil {
		return state.TimedOverride{}, fmt.Errorf("override: schema validation: %w", err)
	}

	var t state.TimedOverride
	if err := json.Unmarshal(payload, &t); err != nil {
		return state.TimedOverride{}, fmt.Errorf("override: decode: %w", err)
	}
	return t, nil
}

// ParseOneshot validates and decodes a `oneshot_override/set` payload.
func ParseOneshot(payload []byte) (state.OneshotOverride, error) {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return state.OneshotOverride{}, fmt.Errorf("override: invalid JSON: %w", err)
	}
	if err := oneshotOverrideSchema.Validate(doc); err != nil {
		return state.OneshotOverride{}, fmt.Errorf("override: schema validation: %w", err)
	}

	var o state.OneshotOverride
	if err := json.Unmarshal(payload, &o); err != nil {
		return state.OneshotOverride{}, fmt.Errorf("override: decode: %w", err)
	}
	return o, nil
}

// EncodeTimed renders t (or null if absent) as the canonical JSON wire form.
func EncodeTimed(t state.TimedOverride, present bool) []byte {
	if !present {
		return []byte("null")
	}
	b, _ := json.Marshal(t)
	return b
}

// EncodeOneshot renders o (or null if absent) as the canonical JSON wire form.
func EncodeOneshot(o state.OneshotOverride, present bool) []byte {
	if !present {
		return []byte("null")
	}
	b, _ := json.Marshal(o)
	return b
}

// persister is the subset of *store.Store overrides need.
type persister interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Del(key string) error
}

// LoadTimed hydrates a persisted TimedOverride. On deserialization failure
// the key is deleted and ok is false, per spec.md §4.E/§7.
func LoadTimed(st persister) (t state.TimedOverride, ok bool, err error) {
	raw, present, err := st.Get(hvac.Keys.TimedOverride)
	if err != nil {
		return state.TimedOverride{}, false, err
	}
	if !present {
		return state.TimedOverride{}, false, nil
	}

	t, err = ParseTimed([]byte(raw))
	if err != nil {
		if delErr := st.Del(hvac.Keys.TimedOverride); delErr != nil {
			return state.TimedOverride{}, false, fmt.Errorf("override: deleting corrupt timed_override: %w", delErr)
		}
		return state.TimedOverride{}, false, nil
	}
	return t, true, nil
}

// LoadOneshot hydrates a persisted OneshotOverride, same contract as LoadTimed.
func LoadOneshot(st persister) (o state.OneshotOverride, ok bool, err error) {
	raw, present, err := st.Get(hvac.Keys.OneshotOverride)
	if err != nil {
		return state.OneshotOverride{}, false, err
	}
	if !present {
		return state.OneshotOverride{}, false, nil
	}

	o, err = ParseOneshot([]byte(raw))
	if err != nil {
		if delErr := st.Del(hvac.Keys.OneshotOverride); delErr != nil {
			return state.OneshotOverride{}, false, fmt.Errorf("override: deleting corrupt oneshot_override: %w", delErr)
		}
		return state.OneshotOverride{}, false, nil
	}
	return o, true, nil
}

// SaveTimed persists t under timed_override.
func SaveTimed(st persister, t state.TimedOverride) error {
	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("override: encoding timed_override: %w", err)
	}
	return st.Set(hvac.Keys.TimedOverride, string(b))
}

// SaveOneshot persists o under oneshot_override.
func SaveOneshot(st persister, o state.OneshotOverride) error {
	b, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("override: encoding oneshot_override: %w", err)
	}
	return st.Set(hvac.Keys.OneshotOverride, string(b))
}

// ClearTimed removes the persisted timed_override key.
func ClearTimed(st persister) error {
	return st.Del(hvac.Keys.TimedOverride)
}

// ClearOneshot removes the persisted oneshot_override key.
func ClearOneshot(st persister) error {
	return st.Del(hvac.Keys.OneshotOverride)
}

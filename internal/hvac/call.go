// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package hvac holds the wire-level vocabulary shared by every component of
// thermostatd: the HvacCall enum, bus topic names, and durable store keys.
package hvac

import "fmt"

// Call is the three-valued command published to the furnace/AC relay.
type Call uint8

const (
	Off Call = iota
	Heat
	Cool
)

// String renders the Go-ish debug form ("Off", "Heat", "Cool").
func (c Call) String() string {
	switch c {
	case Heat:
		return "Heat"
	case Cool:
		return "Cool"
	default:
		return "Off"
	}
}

// Payload is the lowercase wire form published on the bus.
func (c Call) Payload() string {
	switch c {
	case Heat:
		return "heat"
	case Cool:
		return "cool"
	default:
		return "off"
	}
}

// MarshalJSON renders the lowercase wire form so JSON round-trips with the payload form.
func (c Call) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.Payload() + `"`), nil
}

// UnmarshalJSON accepts the lowercase wire form.
func (c *Call) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' {
		return fmt.Errorf("hvac: invalid Call JSON %q", data)
	}
	call, ok := FromPayload(data[1 : len(data)-1])
	if !ok {
		return fmt.Errorf("hvac: invalid Call value %q", data)
	}
	*c = call
	return nil
}

// FromPayload parses a bus payload. Per spec.md §3, only the first ASCII
// letter (case-insensitive) is significant: "o"/"off" -> Off, "h"/"heat" ->
// Heat, "c"/"cool" -> Cool.
func FromPayload(payload []byte) (Call, bool) {
	if len(payload) == 0 {
		return Off, false
	}
	switch payload[0] {
	case 'o', 'O':
		return Off, true
	case 'h', 'H':
		return Heat, true
	case 'c', 'C':
		return Cool, true
	default:
		return Off, false
	}
}

// FromString is a convenience wrapper around FromPayload for string inputs,
// as used when parsing a script's evaluate() return value.
func FromString(s string) (Call, bool) {
	return FromPayload([]byte(s))
}
